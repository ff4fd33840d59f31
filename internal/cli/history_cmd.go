// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigchat/internal/export"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/storage"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List, show, export and delete saved conversations",
		Args:  noArgs,
	}
	cmd.AddCommand(
		newHistoryListCmd(a),
		newHistoryShowCmd(a),
		newHistoryExportCmd(a),
		newHistoryDeleteCmd(a),
	)
	return cmd
}

func newHistoryListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved conversations, most recent first",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return NewCommandError("history", "list", err)
			}
			metas, err := store.List()
			if err != nil {
				return NewCommandError("history", "list", err)
			}
			if asJSON {
				if metas == nil {
					metas = []storage.ConversationMeta{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(metas)
			}
			fmt.Fprint(cmd.OutOrStdout(), storage.FormatList(metas))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newHistoryShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [NAME]",
		Short: "Print a saved conversation (default: the current one)",
		Args:  maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := a.conversation()
			if len(args) == 1 {
				name = storage.SanitizeName(args[0])
			}
			msgs, err := a.loadConversation("show", name)
			if err != nil {
				return err
			}

			conv := export.NewConversation(name, msgs)
			format := "text"
			if a.useMarkdown() {
				format = "markdown"
			}
			exporter, err := export.ForFormat(format, &export.Options{IncludeTimestamps: true})
			if err != nil {
				return NewCommandError("history", "show", err)
			}
			data, err := exporter.Export(conv)
			if err != nil {
				return NewCommandError("history", "show", err)
			}
			if format == "markdown" {
				fmt.Fprint(cmd.OutOrStdout(), renderMarkdown(string(data), a.cfg.UI.Theme))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newHistoryExportCmd(a *app) *cobra.Command {
	var (
		format string
		outDir string
		zstd   bool
	)
	cmd := &cobra.Command{
		Use:   "export [NAME]",
		Short: "Export a saved conversation to a file",
		Example: `  rigchat history export
  rigchat history export work --format json --out ./exports
  rigchat history export --zstd`,
		Args: maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter, err := export.ForFormat(format, &export.Options{IncludeMetadata: true, IncludeTimestamps: true})
			if err != nil {
				return NewValidationError("format", format, err.Error())
			}
			name := a.conversation()
			if len(args) == 1 {
				name = storage.SanitizeName(args[0])
			}
			msgs, err := a.loadConversation("export", name)
			if err != nil {
				return err
			}

			conv := export.NewConversation(name, msgs)
			conv.Backend = a.cfg.Backend.Name
			conv.Model = a.sessionModel()
			path, err := export.ToFile(conv, exporter, &export.Options{
				OutputDir:         outDir,
				IncludeMetadata:   true,
				IncludeTimestamps: true,
				Compress:          zstd,
			})
			if err != nil {
				return NewCommandError("history", "export", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", RenderConditional(SuccessStyle, "Exported"), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "markdown, json or text")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	cmd.Flags().BoolVar(&zstd, "zstd", false, "compress the export with zstd")
	return cmd
}

func newHistoryDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a saved conversation",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return NewCommandError("history", "delete", err)
			}
			name := storage.SanitizeName(args[0])
			if err := store.Delete(name); err != nil {
				return NewCommandError("history", "delete", fmt.Errorf("%s: %w", name, err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", name)
			return nil
		},
	}
}

// loadConversation reads a saved conversation for the history commands. An
// empty one is an error here since there is nothing to show.
func (a *app) loadConversation(action, name string) ([]model.Message, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, NewCommandError("history", action, err)
	}
	msgs, err := store.Load(name)
	if err != nil {
		return nil, NewCommandError("history", action, err)
	}
	if len(msgs) == 0 {
		return nil, NewCommandError("history", action, fmt.Errorf("%s: %w", name, storage.ErrConversationNotFound))
	}
	return msgs, nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigchat/internal/fetch"
)

func newFetchCmd(a *app) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Fetch a page and print its content",
		Long: `Fetch retrieves a page and prints it without involving the model.
Modes: text (default), markdown, html, json (the full result with links,
scripts and metadata).`,
		Example: `  rigchat fetch https://go.dev
  rigchat fetch --mode json https://go.dev
  rigchat fetch --render --wait 2s https://example.com/app`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := fetch.ParseMode(mode)
			if err != nil {
				return NewValidationError("mode", mode, err.Error())
			}
			f, release := a.newFetcher()
			defer release()

			page, err := f.Fetch(cmd.Context(), fetch.Request{
				URL:      args[0],
				Mode:     m,
				WaitTime: a.fetchWait(),
				Timeout:  a.fetchTimeout(),
			})
			if err != nil {
				return NewCommandError("fetch", "", err)
			}
			out, err := fetch.Render(page, m)
			if err != nil {
				return NewCommandError("fetch", "render", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			if !strings.HasSuffix(out, "\n") {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "text", "output mode: text, markdown, html or json")
	return cmd
}

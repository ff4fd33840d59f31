// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/server"
	"github.com/jeranaias/rigchat/internal/session"
	"github.com/jeranaias/rigchat/internal/storage"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the conversation over a local HTTP API",
		Long: `Serve exposes the conversation on a local HTTP API with streaming
(server-sent events) and websocket chat. Changes to the config file's
session temperature and instructions are applied without a restart.`,
		Example: `  rigchat serve
  rigchat serve --addr 127.0.0.1:9000 -b gemini`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return a.runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, 127.0.0.1:8787)")
	return cmd
}

func (a *app) runServe(ctx context.Context) error {
	ctrl, err := a.openController(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	fetcher, release := a.newFetcher()
	defer release()

	srv := server.New(&server.Config{
		Addr:              a.cfg.Server.Addr,
		AllowedOrigins:    a.cfg.Server.AllowedOrigins,
		Token:             a.cfg.Server.Token,
		RequestsPerMinute: a.cfg.Server.RequestsPerMinute,
		Conversation:      a.conversation(),
		FetchTimeout:      a.fetchTimeout(),
		Version:           Version,
		Logger:            a.log,
	}, server.Deps{
		Controller: ctrl,
		Store:      a.savingStore(),
		Fetcher:    fetcher,
		Composer:   a.composer(),
	})

	fmt.Fprintf(a.env.Stdout, "Serving %s on http://%s (Ctrl+C to stop)\n", ctrl.Status().Backend, a.cfg.Server.Addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	a.watchConfig(g, gctx, ctrl)
	if err := g.Wait(); err != nil {
		return NewCommandError("serve", "", err)
	}
	return nil
}

// watchConfig applies session changes from the config file while a
// long-running command serves ctrl.
func (a *app) watchConfig(g *errgroup.Group, ctx context.Context, ctrl *session.Controller) {
	path := a.configFile()
	if path == "" {
		return
	}
	g.Go(func() error {
		err := config.Watch(ctx, path, func(cfg *config.Config, err error) {
			if err != nil {
				a.log.Warn("config reload failed", zap.String("path", path), zap.Error(err))
				printWarning(a.env.Stderr, "config reload failed: %v", err)
				return
			}
			a.applyReload(ctx, ctrl, cfg)
		})
		if err != nil {
			a.log.Warn("config watch unavailable", zap.Error(err))
		}
		return nil
	})
}

// applyReload carries temperature and instruction changes to ctrl.
func (a *app) applyReload(ctx context.Context, ctrl *session.Controller, cfg *config.Config) {
	st := ctrl.Status()
	if t := cfg.Session.Temperature; t != a.cfg.Session.Temperature {
		got := ctrl.SetTemperature(t)
		a.cfg.Session.Temperature = got
		a.log.Info("temperature reloaded", zap.Float64("temperature", got))
	}
	if ins := cfg.Session.Instructions; ins != a.cfg.Session.Instructions && ins != st.Instructions {
		if err := ctrl.SetInstructions(ctx, ins); err != nil {
			a.log.Warn("instructions reload failed", zap.Error(err))
			return
		}
		a.cfg.Session.Instructions = ins
		a.log.Info("instructions reloaded")
	}
}

// savingStore returns the history store, or nil when saving is disabled.
func (a *app) savingStore() storage.Store {
	if !a.cfg.Storage.AutoSave {
		return nil
	}
	return a.store
}

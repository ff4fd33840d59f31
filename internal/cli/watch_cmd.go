// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigchat/internal/bridge"
)

func newWatchCmd(a *app) *cobra.Command {
	var polling bool
	cmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "Answer editor requests dropped into a directory",
		Long: `Watch answers requests an editor writes to DIR/inbox/<id>.request.json.
Each reply is written to DIR/outbox/<id>.response.json and the request is
moved to DIR/processed. Requests already waiting are answered first.

Request format:
  {"id": "1", "action": "explain", "language": "go", "code": "..."}

Actions: explain, refactor, document, ask (uses "prompt").`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWatch(cmd.Context(), args[0], polling)
		},
	}
	cmd.Flags().BoolVar(&polling, "poll", false, "scan the inbox instead of using file notifications")
	return cmd
}

func (a *app) runWatch(ctx context.Context, dir string, polling bool) error {
	ctrl, err := a.openController(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	b, err := bridge.New(ctrl, &bridge.Config{
		Dir:          dir,
		ForcePolling: polling,
		MaxCodeChars: a.cfg.Fetch.MaxChars,
		Logger:       a.log,
		OnResponse: func(req bridge.Request, resp bridge.Response) {
			a.save(ctrl)
			if resp.Status == bridge.StatusOK {
				fmt.Fprintf(a.env.Stdout, "%s %s %s\n", RenderConditional(SuccessStyle, "answered"), resp.ID, resp.Action)
				return
			}
			printLine(a.env.Stderr, resp.Severity, fmt.Sprintf("request %s: %s", resp.ID, resp.Error))
		},
	})
	if err != nil {
		return NewCommandError("watch", "", err)
	}
	fmt.Fprintf(a.env.Stdout, "Watching %s (Ctrl+C to stop)\n", b.Inbox())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx) })
	a.watchConfig(g, gctx, ctrl)
	if err := g.Wait(); err != nil {
		return NewCommandError("watch", "", err)
	}
	handled, failed := b.Counts()
	fmt.Fprintf(a.env.Stdout, "Answered %d requests (%d failed)\n", handled, failed)
	return nil
}

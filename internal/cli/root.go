// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/session"
)

// Version information, set from main at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Run(ctx, os.Args[1:], &Env{StopSignals: stop})
}

// Run executes args against a fresh command tree. Any error the commands
// return is printed as one line on env.Stderr.
func Run(ctx context.Context, args []string, env *Env) int {
	root := NewRootCmd(env)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	printFailure(env.Stderr, err)
	return ExitCode(err)
}

// NewRootCmd builds the command tree.
func NewRootCmd(env *Env) *cobra.Command {
	a := newApp(env)
	o := a.opts

	root := &cobra.Command{
		Use:   "rigchat [prompt...]",
		Short: "Chat with a local or cloud language model",
		Long: `rigchat holds one conversation with a language model.

With a prompt (or a prompt piped on stdin) it answers once and exits.
Without one, on a terminal, it starts an interactive session.

The conversation is saved after every turn and restored on the next run.`,
		Example: `  rigchat "explain goroutines in two sentences"
  git diff | rigchat
  rigchat --fetch https://go.dev/blog "what changed recently?"
  rigchat -b echo`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.finish()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRoot(cmd.Context(), args)
		},
	}
	root.SetIn(env.Stdin)
	root.SetOut(env.Stdout)
	root.SetErr(env.Stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "config file (default ~/.rigchat/config.toml)")
	pf.VarP(&o.backend, "backend", "b", "model backend: ollama, gemini or echo")
	pf.StringVarP(&o.model, "model", "m", "", "model name for the selected backend")
	pf.VarP(&o.useCase, "use-case", "u", "session use case: general or content-tagging")
	pf.VarP(&o.temperature, "temperature", "t", "sampling temperature in [0, 1]")
	pf.StringVarP(&o.instructions, "instructions", "i", "", "system instructions for new sessions")
	pf.StringVarP(&o.conversation, "conversation", "c", "", "conversation name (default current)")
	pf.BoolVar(&o.noSave, "no-save", false, "do not save the conversation")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging to stderr")
	pf.BoolVarP(&o.quiet, "quiet", "q", false, "only log errors")
	pf.BoolVar(&o.render, "render", false, "render pages in headless Chromium before reading them")
	pf.DurationVar(&o.wait, "wait", 0, "extra time to let rendered pages settle")
	pf.DurationVar(&o.timeout, "timeout", 0, "page fetch timeout")

	root.Flags().StringVar(&o.fetchURL, "fetch", "", "fetch `URL` and analyze it; the prompt is the directive")

	root.AddCommand(
		newFetchCmd(a),
		newHistoryCmd(a),
		newServeCmd(a),
		newWatchCmd(a),
		newTUICmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// runRoot answers one prompt, or starts the REPL when there is none and
// stdin is a terminal.
func (a *app) runRoot(ctx context.Context, args []string) error {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" && a.opts.fetchURL == "" {
		if a.env.Interactive() {
			return a.runREPL(ctx)
		}
		piped, err := readPrompt(a.env.Stdin)
		if err != nil {
			return NewValidationError("prompt", "", err.Error())
		}
		if piped == "" {
			return ErrMissingArgument("prompt", `rigchat "your question"`)
		}
		prompt = piped
	}
	return a.runOnce(ctx, prompt)
}

// runOnce answers one prompt. Conversation failures are printed and the
// command still succeeds; only an unavailable backend is returned.
func (a *app) runOnce(ctx context.Context, prompt string) error {
	ctrl, err := a.openController(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	if a.opts.fetchURL != "" {
		f, release := a.newFetcher()
		prompt = a.fetchPrompt(ctx, f, a.opts.fetchURL, prompt)
		release()
	}

	if a.useMarkdown() {
		reply, err := ctrl.Ask(ctx, prompt)
		if err == nil {
			fmt.Fprint(a.env.Stdout, renderMarkdown(reply, a.cfg.UI.Theme))
		}
		return a.finishTurn(ctrl, err)
	}
	_, err = streamTurn(ctx, ctrl, prompt, a.env.Stdout)
	return a.finishTurn(ctrl, err)
}

// finishTurn saves the conversation and reports a turn failure. Fatal
// failures are returned so the process exits non-zero.
func (a *app) finishTurn(ctrl *session.Controller, err error) error {
	a.save(ctrl)
	if err == nil {
		return nil
	}
	if session.IsFatal(err) {
		return err
	}
	printFailure(a.env.Stderr, err)
	return nil
}

// =============================================================================
// VERSION
// =============================================================================

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  noArgs,
		// Version needs no config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		PersistentPostRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rigchat %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		},
	}
}

// =============================================================================
// ARGUMENT VALIDATORS
// =============================================================================

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return &usageError{err: err}
	}
	return nil
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MaximumNArgs(n)(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

// configFile returns the file to watch for reloads, or "".
func (a *app) configFile() string {
	if a.configPath != "" {
		return a.configPath
	}
	if dir, err := config.ConfigDir(); err == nil {
		return config.FindConfigFile(dir)
	}
	return ""
}

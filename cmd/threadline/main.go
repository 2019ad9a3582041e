// Package main provides the threadline CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/threadline/cli"
)

var (
	// Global flags
	opts    = cli.DefaultOptions()
	verbose bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "threadline",
		Short: "Streaming, tool-using conversations with LLM backends",
		Long: `A CLI for multi-turn conversations with an LLM backend.

The model may call tools, keep the floor across turns and switch to a
fallback model on rate limits. Long histories are summarized
automatically before they outgrow the context window.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.Provider, "provider", "p", "", "LLM provider (openai, anthropic, deepseek, gemini); defaults to LLM_PROVIDER")
	flags.StringVar(&opts.Model, "model", "", "Model id (overrides <PROVIDER>_MODEL)")
	flags.StringVar(&opts.FallbackModel, "fallback-model", "", "Model offered on rate limits (overrides <PROVIDER>_FALLBACK_MODEL)")
	flags.StringVar(&opts.SystemPrompt, "system", "", "System prompt")
	flags.StringVar(&opts.DBPath, "db", "", "SQLite checkpoint database (overrides THREADLINE_DB_PATH)")
	flags.IntVarP(&opts.MaxTurns, "max-turns", "m", 0, "Maximum automatic turns per message (capped at 100)")
	flags.IntVar(&opts.MaxSessionTurns, "max-session-turns", 0, "Maximum turns for the whole session (-1 for unlimited)")
	flags.Uint32Var(&opts.ToolRetries, "tool-retries", opts.ToolRetries, "Maximum retries for tool execution")
	flags.StringArrayVar(&opts.AllowedPaths, "allow", nil, "Directory tools may read (repeatable; default: working directory)")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Show debug logs on stderr")

	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(toolsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openSession(ctx context.Context) (*cli.Session, func(), error) {
	opts.Verbose = verbose
	logger, err := cli.NewLogger(verbose)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	session, err := cli.Open(ctx, opts, os.Stdin, os.Stdout, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	cleanup := func() {
		if err := session.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		_ = logger.Sync()
	}
	return session, cleanup, nil
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session.

With --session the conversation is resumed from and autosaved to the
checkpoint store under that tag. Type /help inside the session for
checkpoint and history commands.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, cleanup, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			return session.Chat(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&opts.Session, "session", "", "Checkpoint tag to resume and autosave")

	return cmd
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Send one message and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			session, cleanup, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			return session.Send(ctx, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Session, "session", "", "Checkpoint tag to resume and autosave")
	cmd.Flags().BoolVar(&opts.AutoFallback, "auto-fallback", false, "Switch to the fallback model on rate limits without asking")

	return cmd
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List known models and their context windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli.ListModels(cmd.OutOrStdout())
			return nil
		},
	}
}

func toolsCmd() *cobra.Command {
	var verboseTools bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListTools(cmd.OutOrStdout(), verboseTools)
		},
	}

	cmd.Flags().BoolVarP(&verboseTools, "verbose", "V", false, "Show tool parameters")

	return cmd
}

// Package main provides the canvasync CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/richinex/canvasync/cli"
	"github.com/richinex/canvasync/config"
	"github.com/richinex/canvasync/storage"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string
	verbose    bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "canvasync",
		Short: "Project content sync, local cache and asset store for the canvas editor",
		Long: `canvasync keeps editor project content in sync with the project server.

- Saves use optimistic concurrency; edits made during a save stay unsaved
- Projects open from a local cache only when it is proven fresh
- Local image assets are uploaded before save, with bounded parallelism`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show verbose output")

	// Add commands
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(openCmd())
	rootCmd.AddCommand(saveCmd())
	rootCmd.AddCommand(editCmd())
	rootCmd.AddCommand(assetsCmd())
	rootCmd.AddCommand(cacheCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// options loads settings and builds the logger shared by every command.
func options() (cli.Options, error) {
	var (
		settings config.Settings
		err      error
	)
	if configPath != "" {
		settings, err = config.Load(configPath)
	} else {
		settings, err = config.New()
	}
	if err != nil {
		return cli.Options{}, err
	}
	if logLevel != "" {
		if _, err := config.ParseLevel(logLevel); err != nil {
			return cli.Options{}, err
		}
		settings.LogLevel = logLevel
	}
	return cli.Options{
		Settings: settings,
		Logger:   config.NewLogger(os.Stderr, settings.LogLevel),
		Out:      os.Stdout,
		Verbose:  verbose,
	}, nil
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference project server",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options()
			if err != nil {
				return err
			}
			if addr != "" {
				opts.Settings.Server.Addr = addr
			}
			return cli.Serve(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")

	return cmd
}

func openCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open [project]",
		Short: "Open a project, from the local cache when it is fresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options()
			if err != nil {
				return err
			}
			return cli.Open(cmd.Context(), args[0], opts)
		},
	}
}

func saveCmd() *cobra.Command {
	var file string
	var history bool

	cmd := &cobra.Command{
		Use:   "save [project]",
		Short: "Apply a JSON document to a project and save it",
		Long: `Open the project, merge the JSON object from --file into its content
(the "canvas" object is merged one level deep) and save.

Local image references ("asset:<id>") are uploaded first; references that
cannot be uploaded are left out of the save with a warning.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("history") {
				opts.Settings.Save.WorkflowHistory = history
			}
			return cli.Save(cmd.Context(), args[0], file, opts)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON document to apply (- for stdin)")
	cmd.Flags().BoolVar(&history, "history", false, "Keep a history snapshot of this save")

	return cmd
}

func editCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit [project]",
		Short: "Start an interactive editing session with autosave",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options()
			if err != nil {
				return err
			}
			return cli.Edit(cmd.Context(), args[0], os.Stdin, opts)
		},
	}
}

func assetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Manage locally stored image assets",
	}

	var project string
	put := &cobra.Command{
		Use:   "put [file...]",
		Short: "Store files as local assets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options()
			if err != nil {
				return err
			}
			return cli.AssetsPut(cmd.Context(), args, project, opts)
		},
	}
	put.Flags().StringVar(&project, "project", "", "Project the assets belong to")

	var out string
	get := &cobra.Command{
		Use:   "get [id]",
		Short: "Write an asset's bytes to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options()
			if err != nil {
				return err
			}
			return cli.AssetsGet(cmd.Context(), args[0], out, opts)
		},
	}
	get.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")

	var filter storage.AssetFilter
	ls := &cobra.Command{
		Use:   "ls",
		Short: "List local assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options()
			if err != nil {
				return err
			}
			return cli.AssetsList(cmd.Context(), filter, opts)
		},
	}
	ls.Flags().StringVar(&filter.ProjectID, "project", "", "Only assets of this project")
	ls.Flags().StringVar(&filter.NodeID, "node", "", "Only assets of this node")
	ls.Flags().IntVar(&filter.Limit, "limit", 0, "Maximum number of assets")

	rm := &cobra.Command{
		Use:   "rm [id...]",
		Short: "Delete local assets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options()
			if err != nil {
				return err
			}
			return cli.AssetsDelete(cmd.Context(), args, opts)
		},
	}

	cmd.AddCommand(put, get, ls, rm)
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the local project cache",
	}

	show := &cobra.Command{
		Use:   "show [project]",
		Short: "Show a project's cache row and whether it is fresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options()
			if err != nil {
				return err
			}
			return cli.CacheShow(cmd.Context(), args[0], opts)
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear [project]",
		Short: "Delete a project's cache row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options()
			if err != nil {
				return err
			}
			return cli.CacheClear(cmd.Context(), args[0], opts)
		},
	}

	cmd.AddCommand(show, clearCmd)
	return cmd
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/trellis/internal/pipeline"
	"github.com/ajitpratap0/trellis/pkg/config"
	"github.com/ajitpratap0/trellis/pkg/display"
	jsonpool "github.com/ajitpratap0/trellis/pkg/json"
	"github.com/ajitpratap0/trellis/pkg/logger"
	"github.com/ajitpratap0/trellis/pkg/observability"
	"github.com/ajitpratap0/trellis/pkg/server"
	"github.com/ajitpratap0/trellis/pkg/views"
)

var version = "0.1.0"

// globalFlags are shared by every command
type globalFlags struct {
	logLevel    string
	logEncoding string
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "trellis",
		Short: "Trellis - panel displays from tabular data",
		Long: `Trellis turns a table with one panel column into a display specification:
metadata documents plus one asset file per panel, laid out for a browser viewer
to filter, sort, search and page through.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logger.Config{Level: flags.logLevel, Encoding: flags.logEncoding})
		},
	}
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.logEncoding, "log-encoding", "console", "Log encoding (json, console)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Trellis v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(buildCommand(), serveCommand(), inspectCommand(), viewsCommand(), removeCommand())

	err := root.Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildCommand() *cobra.Command {
	var configFile, outputRoot string
	var workers int
	var timeout time.Duration
	var serve bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a display from a YAML configuration",
		Long: `Build a display: load the input table, infer variable kinds, render every
panel and write the display under the output root.

Example:
  trellis build --config cars.yaml --serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadBuildConfig(configFile)
			if err != nil {
				return err
			}
			if outputRoot != "" {
				cfg.Output.Root = outputRoot
			}
			if workers > 0 {
				cfg.Panel.Workers = workers
			}

			if cfg.Observability.EnableTracing {
				tc := observability.DefaultTracingConfig()
				tc.ServiceVersion = version
				tc.SamplingRate = cfg.Observability.TracingSampleRate
				tc.Writer = os.Stderr
				if err := observability.InitTracing(tc); err != nil {
					return err
				}
				defer func() { _ = observability.Shutdown(context.Background()) }()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			ctx = logger.WithBuildID(ctx, fmt.Sprintf("%s-%d", cfg.Name, time.Now().UnixNano()))
			log := logger.Get().With(zap.String("component", "trellis-cli"))

			res, err := pipeline.Build(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("build of %s failed: %w", cfg.Name, err)
			}
			fmt.Printf("Built display %q: %d panels in %v\n", res.Display.Name, res.Display.N(), res.Duration.Round(time.Millisecond))
			for _, key := range res.Excluded {
				fmt.Printf("  excluded row %s: %v\n", key, res.Report.Failed[key])
			}

			if !serve {
				return nil
			}
			return runServer(stop, server.Config{
				Root:    cfg.Output.Root,
				Addr:    cfg.Server.Addr,
				Logger:  log,
				Metrics: cfg.Observability.EnableMetrics,
			})
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the build configuration YAML file (required)")
	_ = cmd.MarkFlagRequired("config")
	cmd.Flags().StringVarP(&outputRoot, "root", "o", "", "Output root; overrides output.root")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent panel renders; overrides panel.workers")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "Build timeout")
	cmd.Flags().BoolVar(&serve, "serve", false, "Serve the output root after a successful build")
	return cmd
}

func serveCommand() *cobra.Command {
	var root, addr string
	var metrics bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an output root on a loopback address",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(func() {}, server.Config{
				Root:    root,
				Addr:    addr,
				Logger:  logger.Get().With(zap.String("component", "trellis-cli")),
				Metrics: metrics,
			})
		},
	}

	cmd.Flags().StringVarP(&root, "root", "o", "trellis_out", "Output root to serve")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8000", "Loopback address; port 0 picks a free port")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "Expose Prometheus metrics on /metrics")
	return cmd
}

// runServer serves until interrupted. release drops any signal handler the
// caller installed so the server's own takes over.
func runServer(release func(), cfg server.Config) error {
	release()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := server.Start(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("Serving %s at %s (Ctrl-C to stop)\n", cfg.Root, h.URL())
	<-h.Done()
	return nil
}

func inspectCommand() *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "inspect [display]",
		Short: "Print the root index or one display's info document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc interface{}
			if len(args) == 0 {
				x, err := display.ReadIndex(root)
				if err != nil {
					return err
				}
				doc = x
			} else {
				info, err := display.ReadInfo(root, args[0])
				if err != nil {
					return err
				}
				doc = info
			}
			return printJSON(doc)
		},
	}

	cmd.Flags().StringVarP(&root, "root", "o", "trellis_out", "Output root")
	return cmd
}

func viewsCommand() *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "views",
		Short: "Manage the saved views of a display",
	}
	cmd.PersistentFlags().StringVarP(&root, "root", "o", "trellis_out", "Output root")

	open := func(name string) *views.Store {
		return views.Open(root, name, views.WithLogger(logger.Get()))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <display>",
		Short: "List saved views",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := open(args[0]).List()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <display> <view>",
		Short: "Print a saved view",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := open(args[0]).Get(args[1])
			if err != nil {
				return err
			}
			return printJSON(v)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <display> <view>",
		Short: "Delete a saved view",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := open(args[0]).Delete(args[1]); err != nil {
				return err
			}
			fmt.Printf("Deleted view %q of %s\n", args[1], args[0])
			return nil
		},
	})

	return cmd
}

func removeCommand() *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "remove <display>",
		Short: "Remove a display and its index entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := display.Remove(root, args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed display %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&root, "root", "o", "trellis_out", "Output root")
	return cmd
}

func printJSON(v interface{}) error {
	data, err := jsonpool.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Package cmd defines and implements the CLI commands for the loader executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressive-loader/internal/app"
	"github.com/JakeFAU/progressive-loader/internal/config"
	"github.com/JakeFAU/progressive-loader/internal/frame/browser"
	"github.com/JakeFAU/progressive-loader/internal/loader"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a mock app during tests.
type App interface {
	Logger() *zap.Logger
	Config() config.Config
	Page() *browser.Page
	NewFetcher(display loader.ProgressDisplay, surface loader.Surface) (*loader.Fetcher, error)
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it
// with a mock factory.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.Build(ctx, cfg, app.Options{})
}

// session owns the App built for one command execution. The App is closed
// after the command returns, whether or not it failed.
type session struct {
	app App
}

func (s *session) close(ctx context.Context) error {
	if s.app == nil {
		return nil
	}
	appInstance := s.app
	s.app = nil
	if err := appInstance.Close(ctx); err != nil {
		return fmt.Errorf("close application: %w", err)
	}
	return nil
}

// newRootCmd creates and configures the root command.
func newRootCmd(s *session) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "loader",
		Short: "Streams a binary payload with progress reporting and hands it to a content frame.",
		Long: `loader fetches a binary payload (by default wasm/pongo.wasm) over HTTP,
reports byte-level progress while it streams, and delivers the complete
payload to the configured content target once the transfer has finished.`,
		SilenceUsage: true,

		// Builds the application before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			s.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and LOADER_* environment variables apply)")

	cmd.AddCommand(newLoadCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// run executes the CLI with args and closes the App afterwards.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	s := &session{}
	root := newRootCmd(s)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	runErr := root.ExecuteContext(ctx)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return errors.Join(runErr, s.close(closeCtx))
}

// Execute is the main entry point.
func Execute() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		zap.L().Fatal("Command execution failed", zap.Error(err))
	}
}

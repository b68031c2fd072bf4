package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressive-loader/internal/config"
	"github.com/JakeFAU/progressive-loader/internal/display/logdisplay"
	"github.com/JakeFAU/progressive-loader/internal/display/terminal"
	"github.com/JakeFAU/progressive-loader/internal/loader"
	"github.com/JakeFAU/progressive-loader/internal/telemetry"
)

// newLoadCmd creates the 'load' subcommand, which runs a single load in the
// foreground.
func newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load [url]",
		Short: "Fetch one payload and deliver it to the content target",
		Long: `Fetches the given URL, or loader.base_url + loader.asset_path when no
URL is given, showing progress on the configured display. The payload is
delivered to the content target after the final 100% report and the hand-off
delay.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runLoadCommand,
	}
}

func runLoadCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()

	var override string
	if len(args) == 1 {
		override = args[0]
	}
	url, err := cfg.AssetURL(override)
	if err != nil {
		return fmt.Errorf("resolve asset url: %w", err)
	}

	display, surface, release := buildDisplay(cmd, appInstance, cfg)
	defer release()

	fetcher, err := appInstance.NewFetcher(display, surface)
	if err != nil {
		return err
	}
	ctx, span := telemetry.StartLoad(cmd.Context(), url)
	res, err := fetcher.Load(ctx, url)
	telemetry.EndLoad(span, res, err)
	if err != nil {
		return fmt.Errorf("load %s: %w", url, err)
	}

	appInstance.Logger().Info("load finished",
		zap.String("load_id", res.LoadID.String()),
		zap.Duration("duration", res.Duration),
	)
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "load_id=%s url=%s bytes=%d sha256=%s\n",
		res.LoadID, res.URL, len(res.Payload), res.Digest)
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// buildDisplay picks the progress display. The browser page draws its own
// bar; otherwise display.kind chooses between a terminal bar and log lines.
func buildDisplay(
	cmd *cobra.Command,
	appInstance App,
	cfg config.Config,
) (loader.ProgressDisplay, loader.Surface, func()) {
	if page := appInstance.Page(); page != nil {
		return page, page, func() {}
	}
	if cfg.Display.Kind == "terminal" {
		bar := terminal.New(cmd.Context(), terminal.Options{
			Output: cmd.ErrOrStderr(),
			Label:  cfg.Display.Label,
			Width:  cfg.Display.Width,
		})
		return bar, bar, bar.Close
	}
	d := logdisplay.New(appInstance.Logger().Named("display"), cfg.Display.LogStep)
	return d, d, func() {}
}


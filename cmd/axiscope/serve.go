package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"axiscope-panel/pkg/config"
	"axiscope-panel/pkg/log"
	"axiscope-panel/pkg/metrics"
	"axiscope-panel/pkg/offsets"
	"axiscope-panel/pkg/panel"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the web panel",
	Long: `Serve the offset panel on the listen address. The configuration file,
when given, is watched: log_level, poll_interval and the feed rates apply
immediately, other changes need a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides listen)")
	rootCmd.AddCommand(serveCmd)
}

func serveOverrides(pc *config.PanelConfig) {
	applyFlags(pc)
	if serveListen != "" {
		pc.Listen = serveListen
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	pc, err := loadConfig()
	if err != nil {
		return err
	}
	serveOverrides(&pc)

	logger := log.Default()
	if pc.LogFile != "" {
		fw, err := log.AttachFile(logger, log.RotationConfig{Filename: pc.LogFile})
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer fw.Close()
	}

	pm := metrics.NewPanelMetrics()
	client, err := newClient(pc, pm)
	if err != nil {
		return err
	}

	p := panel.New(client, panel.Options{
		Feeds:          offsets.Feeds{Z: pc.ZFeedrate, XY: pc.XYFeedrate},
		PollInterval:   pc.PollInterval,
		CommandTimeout: pc.CommandTimeout,
		Metrics:        pm,
	})
	defer p.Close()

	ctx := cmd.Context()
	if err := p.Refresh(ctx); err != nil {
		logger.WithError(err).Warn("printer not reachable yet, will keep trying")
	}
	p.Start(ctx)

	if configPath != "" {
		w, err := config.NewWatcher(configPath, pc, func(prev, next config.PanelConfig) {
			applyReload(p, logger, prev, next)
		})
		if err != nil {
			logger.WithError(err).Warn("config watch disabled")
		} else {
			w.SetOverrides(serveOverrides)
			w.OnError(func(err error) {
				logger.WithError(err).Warn("config reload failed")
			})
			w.Start()
			defer w.Close()
		}
	}

	srv := &http.Server{
		Addr:              pc.Listen,
		Handler:           panel.NewServer(p),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.WithFields(log.Fields{"listen": pc.Listen, "printer": pc.PrinterURL}).Info("panel started")

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// applyReload installs the runtime-reloadable settings of next. Both
// configs already carry the command-line overrides.
func applyReload(p *panel.Panel, logger *log.Logger, prev, next config.PanelConfig) {
	reloadable, restart := prev.Diff(next)
	if len(restart) > 0 {
		logger.WithField("options", strings.Join(restart, ",")).Warn("changed options need a restart")
	}
	if len(reloadable) == 0 {
		return
	}

	logger.SetLevel(log.ParseLevel(next.LogLevel))
	p.SetFeeds(offsets.Feeds{Z: next.ZFeedrate, XY: next.XYFeedrate})
	p.Poller().SetInterval(next.PollInterval)
	logger.WithField("options", strings.Join(reloadable, ",")).Info("configuration reloaded")
}

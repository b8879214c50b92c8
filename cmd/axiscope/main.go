// axiscope serves the toolchanger offset panel for a Klipper printer and
// offers the same operations from the command line.
//
// Usage:
//
//	axiscope <command> [flags]
//
// Commands:
//
//	serve       Serve the web panel
//	tools       List tools with their offsets and probe results
//	calibrate   Run the Z offset calibration
//	toolchange  Change to a tool
//	simulate    Serve a simulated printer API for development
//
// Global flags:
//
//	--config string     Panel configuration file ([axiscope_panel] section)
//	--printer string    Printer API base URL, overrides printer_url
//	--log-level string  debug, info, warn or error, overrides log_level
//
// Examples:
//
//	# Serve the panel for a printer on the local network
//	axiscope serve --printer http://voron.local
//
//	# Develop against a simulated printer
//	axiscope simulate --listen :7125 &
//	axiscope serve --printer http://localhost:7125
//
//	# Calibrate T1 and T2 against T0 with a trimmed mean
//	axiscope calibrate --printer voron.local --tools 1,2 --method trimmed
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"axiscope-panel/pkg/config"
	"axiscope-panel/pkg/log"
	"axiscope-panel/pkg/metrics"
	"axiscope-panel/pkg/moonraker"
)

var (
	configPath string
	printerURL string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "axiscope",
	Short:         "Toolchanger offset panel for Klipper printers",
	Long:          "Axiscope helps align the tools of a toolchanger: capture a reference position, measure X/Y offsets and run the Z switch calibration.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "panel configuration file")
	pf.StringVar(&printerURL, "printer", "", "printer API base URL (overrides printer_url)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies the global flags.
func loadConfig() (config.PanelConfig, error) {
	pc, err := config.LoadPanelConfig(configPath)
	if err != nil {
		return pc, err
	}
	applyFlags(&pc)

	logger := log.Default()
	logger.SetLevel(log.ParseLevel(pc.LogLevel))
	logger.SetFormat(log.ParseFormat(pc.LogFormat))
	log.ConfigureFromEnv(logger)

	for _, opt := range pc.Unused {
		logger.WithField("option", opt).Warn("unused option in [axiscope_panel]")
	}
	return pc, nil
}

func applyFlags(pc *config.PanelConfig) {
	if printerURL != "" {
		pc.PrinterURL = printerURL
	}
	if logLevel != "" {
		pc.LogLevel = logLevel
	}
	pc.PrinterURL = config.NormalizePrinterURL(pc.PrinterURL)
}

// newClient builds the firmware client for pc. pm may be nil.
func newClient(pc config.PanelConfig, pm *metrics.PanelMetrics) (*moonraker.Client, error) {
	if err := pc.Validate(); err != nil {
		return nil, err
	}
	opts := []moonraker.Option{
		moonraker.WithTimeout(pc.RequestTimeout),
		moonraker.WithScriptTimeout(pc.CommandTimeout),
	}
	if pm != nil {
		opts = append(opts, moonraker.WithObserver(pm))
	}
	return moonraker.NewClient(pc.PrinterURL, opts...)
}

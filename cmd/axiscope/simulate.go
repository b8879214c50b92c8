package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"axiscope-panel/pkg/errors"
	"axiscope-panel/pkg/log"
	"axiscope-panel/pkg/moonraker/moonrakertest"
	"axiscope-panel/pkg/offsets"
)

var (
	simListen     string
	simTools      int
	simNoAxiscope bool
	simZCalc      string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Serve a simulated printer API for development",
	Long: `Serve an in-memory toolchanger printer that answers the object query
and G-code script endpoints the panel uses. Tool changes, moves and the
Z calibration update its state.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simListen, "listen", ":7125", "listen address")
	f.IntVar(&simTools, "tools", 4, "number of tools")
	f.BoolVar(&simNoAxiscope, "no-axiscope", false, "leave the axiscope object out")
	f.StringVar(&simZCalc, "z-calc", "median", "z_calc_method reported by axiscope")
	rootCmd.AddCommand(simulateCmd)
}

// simulatorConfig extends or trims the default printer to n tools.
func simulatorConfig(n int, axiscope bool, zcalc string) (moonrakertest.Config, error) {
	if n < 1 {
		return moonrakertest.Config{}, errors.InvalidInputError("tools", fmt.Sprint(n))
	}
	if _, err := offsets.ParseZCalc(zcalc); err != nil {
		return moonrakertest.Config{}, err
	}
	cfg := moonrakertest.DefaultConfig()
	for i := len(cfg.Tools); i < n; i++ {
		step := float64(i) * 0.01
		cfg.Tools = append(cfg.Tools, moonrakertest.Tool{
			Number:  i,
			Offset:  offsets.Pair{X: offsets.Round3(0.1 - step), Y: offsets.Round3(step - 0.05)},
			Trigger: offsets.Round3(1.7 + step),
		})
	}
	cfg.Tools = cfg.Tools[:n]
	cfg.Axiscope = axiscope
	cfg.ZCalcMethod = zcalc
	return cfg, nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	cfg, err := simulatorConfig(simTools, !simNoAxiscope, simZCalc)
	if err != nil {
		return err
	}

	logger := log.GetLogger("simulate")
	fake := moonrakertest.New(cfg)
	srv := &http.Server{
		Addr:              simListen,
		Handler:           fake,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.WithFields(log.Fields{"listen": simListen, "tools": len(cfg.Tools), "axiscope": cfg.Axiscope}).Info("simulated printer started")

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			return fmt.Errorf("simulator: %w", err)
		}
		return nil
	case <-cmd.Context().Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"axiscope-panel/pkg/errors"
	"axiscope-panel/pkg/log"
	"axiscope-panel/pkg/offsets"
)

var (
	calTools  []int
	calMethod string
	calRef    int
	calDryRun bool
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Run the Z offset calibration",
	Long: `Run CALIBRATE_ALL_Z_OFFSETS on the printer and print the resulting
probe results. Without --tools every tool is calibrated. The reference
tool is always included.`,
	Args: cobra.NoArgs,
	RunE: runCalibrate,
}

func init() {
	f := calibrateCmd.Flags()
	f.IntSliceVar(&calTools, "tools", nil, "tools to calibrate (default all)")
	f.StringVar(&calMethod, "method", "config", "z calculation: config, median, average, trimmed")
	f.IntVar(&calRef, "ref", -1, "reference tool (default T0, else the lowest tool)")
	f.BoolVar(&calDryRun, "dry-run", false, "print the command without running it")
	rootCmd.AddCommand(calibrateCmd)
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	method, err := offsets.ParseZCalc(calMethod)
	if err != nil {
		return err
	}
	pc, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newClient(pc, nil)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rep, err := fetchReport(ctx, client)
	if err != nil {
		return err
	}
	line, err := calibrationLine(rep, calTools, calRef, method)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if calDryRun {
		_, err := fmt.Fprintln(out, line)
		return err
	}

	logger := log.GetLogger("calibrate")
	logger.WithField("script", line).Info("calibrating")
	if err := client.RunScript(ctx, line); err != nil {
		return err
	}

	rep, err = fetchReport(ctx, client)
	if err != nil {
		return err
	}
	return writeReport(out, rep, "text", terminalWidth(os.Stdout))
}

// calibrationLine validates the request against rep and builds the
// command. ref < 0 picks the default reference.
func calibrationLine(rep toolReport, tools []int, ref int, method offsets.ZCalcMethod) (string, error) {
	if len(rep.Tools) == 0 {
		return "", errors.NoToolsLoadedError()
	}
	if !rep.Axiscope {
		return "", errors.NoAxiscopeError()
	}

	known := make(map[int]bool, len(rep.Tools))
	var all []int
	for _, t := range rep.Tools {
		known[t.Tool] = true
		all = append(all, t.Tool)
	}

	var prior *int
	if ref >= 0 {
		if !known[ref] {
			return "", errors.InvalidToolError(ref)
		}
		prior = &ref
	}
	reference := offsets.DefaultReference(all, prior)

	selected := all
	if len(tools) > 0 {
		for _, t := range tools {
			if !known[t] {
				return "", errors.InvalidToolError(t)
			}
		}
		selected = tools
	}
	return offsets.CalibrationCommand(selected, reference, method), nil
}

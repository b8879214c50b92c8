package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"axiscope-panel/pkg/config"
	"axiscope-panel/pkg/errors"
	"axiscope-panel/pkg/log"
	"axiscope-panel/pkg/offsets"
)

var (
	tcReturn bool
	tcDryRun bool
)

var toolchangeCmd = &cobra.Command{
	Use:   "toolchange <tool>",
	Short: "Change to a tool",
	Long: `Change to a tool, e.g. "axiscope toolchange T1". With --return the
new tool is moved back to the toolhead position read before the change.`,
	Args: cobra.ExactArgs(1),
	RunE: runToolChange,
}

func init() {
	toolchangeCmd.Flags().BoolVar(&tcReturn, "return", false, "move the new tool to the current toolhead position")
	toolchangeCmd.Flags().BoolVar(&tcDryRun, "dry-run", false, "print the script without running it")
	rootCmd.AddCommand(toolchangeCmd)
}

// parseToolArg accepts "T1", "t1" or "1".
func parseToolArg(s string) (int, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "T"), "t")
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.InvalidInputError("tool", s)
	}
	return n, nil
}

func runToolChange(cmd *cobra.Command, args []string) error {
	tool, err := parseToolArg(args[0])
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
	tc, err := client.Toolchanger(ctx)
	if err != nil {
		return err
	}
	if !tc.Has(tool) {
		return errors.InvalidToolError(tool)
	}

	change := toolChangeFor(pc, tool)
	if tcReturn {
		pos, err := client.ToolheadPosition(ctx)
		if err != nil {
			return err
		}
		change.Captured = &pos
	}
	script := change.Script()

	out := cmd.OutOrStdout()
	if tcDryRun {
		_, err := fmt.Fprintln(out, strings.Join(script, "\n"))
		return err
	}

	log.GetLogger("toolchange").WithFields(log.Fields{"tool": tool, "return": tcReturn}).Info("changing tool")
	if err := client.RunScript(ctx, script...); err != nil {
		return err
	}
	active, err := client.ActiveTool(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "T%d mounted\n", active)
	return err
}

// toolChangeFor builds a change without overrides: the new tool is its
// own reference, so a return move goes to the captured X/Y.
func toolChangeFor(pc config.PanelConfig, tool int) offsets.ToolChange {
	return offsets.ToolChange{
		Tool:      tool,
		Reference: tool,
		Feeds:     offsets.Feeds{Z: pc.ZFeedrate, XY: pc.XYFeedrate},
	}
}

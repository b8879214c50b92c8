package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"axiscope-panel/pkg/errors"
	"axiscope-panel/pkg/moonraker"
	"axiscope-panel/pkg/offsets"
	"axiscope-panel/pkg/panel"
)

var toolsOutput string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List tools with their offsets and probe results",
	Args:  cobra.NoArgs,
	RunE:  runTools,
}

func init() {
	toolsCmd.Flags().StringVarP(&toolsOutput, "output", "o", "text", "output format: text, json, yaml")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	pc, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newClient(pc, nil)
	if err != nil {
		return err
	}
	rep, err := fetchReport(cmd.Context(), client)
	if err != nil {
		return err
	}
	return writeReport(cmd.OutOrStdout(), rep, toolsOutput, terminalWidth(os.Stdout))
}

type toolRow struct {
	Tool     int      `json:"tool" yaml:"tool"`
	Name     string   `json:"name" yaml:"name"`
	Active   bool     `json:"active" yaml:"active"`
	XOffset  float64  `json:"x_offset" yaml:"x_offset"`
	YOffset  float64  `json:"y_offset" yaml:"y_offset"`
	ZTrigger *float64 `json:"z_trigger,omitempty" yaml:"z_trigger,omitempty"`
	ZOffset  *float64 `json:"z_offset,omitempty" yaml:"z_offset,omitempty"`
}

type toolReport struct {
	Printer     string    `json:"printer" yaml:"printer"`
	ActiveTool  int       `json:"active_tool" yaml:"active_tool"`
	Axiscope    bool      `json:"axiscope" yaml:"axiscope"`
	ZCalcMethod string    `json:"z_calc_method,omitempty" yaml:"z_calc_method,omitempty"`
	Tools       []toolRow `json:"tools" yaml:"tools"`
}

// fetchReport reads the tool list, offsets and probe results. A failed
// axiscope query only marks axiscope absent.
func fetchReport(ctx context.Context, client *moonraker.Client) (toolReport, error) {
	snap, err := panel.FetchSnapshot(ctx, client)
	if err != nil {
		return toolReport{}, err
	}

	rep := toolReport{
		Printer:     client.BaseURL(),
		ActiveTool:  snap.Active,
		Axiscope:    snap.Axiscope.Present,
		ZCalcMethod: snap.Axiscope.ZCalcMethod,
	}
	for _, t := range snap.Tools {
		row := toolRow{
			Tool:    t.Number,
			Name:    t.Name,
			Active:  t.Number == snap.Active,
			XOffset: t.Current.X,
			YOffset: t.Current.Y,
		}
		if r, ok := snap.Axiscope.ProbeResults[t.Number]; ok {
			row.ZTrigger, row.ZOffset = r.ZTrigger, r.ZOffset
		}
		rep.Tools = append(rep.Tools, row)
	}
	return rep, nil
}

func writeReport(w io.Writer, rep toolReport, format string, width int) error {
	switch strings.ToLower(format) {
	case "", "text":
		_, err := fmt.Fprintln(w, renderReport(rep, width))
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	}
	return errors.InvalidInputError("output", format)
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "26", Dark: "81"})
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	activeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "245", Dark: "244"})
)

// narrowWidth is the terminal width below which the Z columns are left out.
const narrowWidth = 60

func optCell(v *float64) string {
	if v == nil {
		return "-"
	}
	return offsets.Format3(*v)
}

// renderReport lays the report out as a table. width is the terminal
// width, 0 when unknown.
func renderReport(rep toolReport, width int) string {
	withZ := rep.Axiscope && (width == 0 || width >= narrowWidth)

	headers := []string{"TOOL", "NAME", "X OFFSET", "Y OFFSET"}
	if withZ {
		headers = append(headers, "Z TRIGGER", "Z OFFSET")
	}
	rows := lo.Map(rep.Tools, func(t toolRow, _ int) []string {
		cells := []string{
			"T" + strconv.Itoa(t.Tool),
			t.Name,
			offsets.Format3(t.XOffset),
			offsets.Format3(t.YOffset),
		}
		if withZ {
			cells = append(cells, optCell(t.ZTrigger), optCell(t.ZOffset))
		}
		return cells
	})

	widths := lo.Map(headers, func(h string, _ int) int { return lipgloss.Width(h) })
	for _, r := range rows {
		for i, c := range r {
			widths[i] = max(widths[i], lipgloss.Width(c))
		}
	}

	pad := func(s string, i int) string {
		style := lipgloss.NewStyle().Width(widths[i]).MarginRight(2)
		if i >= 2 {
			style = style.Align(lipgloss.Right)
		}
		return style.Render(s)
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Axiscope " + rep.Printer))
	sb.WriteString("\n")
	if rep.Axiscope {
		method := rep.ZCalcMethod
		if method == "" {
			method = "unknown"
		}
		sb.WriteString(dimStyle.Render("axiscope: " + method))
	} else {
		sb.WriteString(dimStyle.Render("axiscope: not loaded"))
	}
	sb.WriteString("\n\n")

	hcells := make([]string, len(headers))
	for i, h := range headers {
		hcells[i] = pad(headerStyle.Render(h), i)
	}
	sb.WriteString(strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, hcells...), " "))

	for ri, r := range rows {
		cells := make([]string, len(r))
		for i, c := range r {
			cells[i] = pad(c, i)
		}
		line := strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, cells...), " ")
		if rep.Tools[ri].Active {
			line = activeStyle.Render(line + "  *")
		}
		sb.WriteString("\n")
		sb.WriteString(line)
	}
	if len(rows) == 0 {
		sb.WriteString("\n")
		sb.WriteString(dimStyle.Render("no tools reported"))
	}
	return sb.String()
}

package moonrakertest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"axiscope-panel/pkg/log"
	"axiscope-panel/pkg/offsets"
)

// probeJitter is added to a tool's trigger height to produce its probe
// samples. The median and trimmed mean of these are exact; the average
// is biased by +0.0008.
var probeJitter = []float64{0.006, -0.002, 0.001, 0, -0.001}

// Commands accepted and ignored.
var passthrough = map[string]bool{
	"AXISCOPE_BEFORE_PICKUP_GCODE": true,
	"AXISCOPE_AFTER_PICKUP_GCODE":  true,
	"AXISCOPE_START_GCODE":         true,
	"AXISCOPE_FINISH_GCODE":        true,
	"M400":                         true,
	"M118":                         true,
	"RESPOND":                      true,
}

type gcodeCommand struct {
	Name string
	Args map[string]string
	Raw  string
}

// Execute runs a script line by line. Lines before a failing one stay
// applied. The script is recorded either way.
func (s *Server) Execute(script string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, script)

	for _, line := range strings.Split(script, "\n") {
		cmd := parseGCodeLine(line)
		if cmd == nil {
			continue
		}
		if err := s.execute(cmd); err != nil {
			s.logger.WithFields(log.Fields{"line": cmd.Raw, "error": err}).Warn("script failed")
			return err
		}
	}
	return nil
}

func (s *Server) execute(cmd *gcodeCommand) error {
	if passthrough[cmd.Name] {
		return nil
	}
	if n, ok := toolCommand(cmd.Name); ok {
		if _, exists := s.tools[n]; !exists {
			return fmt.Errorf("Unknown tool: T%d", n)
		}
		s.active = n
		return nil
	}

	switch cmd.Name {
	case "G0", "G1":
		return s.move(cmd)
	case "G28":
		return nil
	case "G90":
		s.absolute = true
	case "G91":
		s.absolute = false
	case "SAVE_GCODE_STATE":
		s.saved[cmd.Args["NAME"]] = savedState{absolute: s.absolute}
	case "RESTORE_GCODE_STATE":
		st, ok := s.saved[cmd.Args["NAME"]]
		if !ok {
			return fmt.Errorf("Unknown g-code state: %s", cmd.Args["NAME"])
		}
		s.absolute = st.absolute
	case "PROBE_ZSWITCH":
		return s.probeActive()
	case "CALIBRATE_ALL_Z_OFFSETS":
		return s.calibrate(cmd)
	default:
		return fmt.Errorf("Unknown command: %s", cmd.Name)
	}
	return nil
}

func toolCommand(name string) (int, bool) {
	if len(name) < 2 || name[0] != 'T' {
		return 0, false
	}
	n, err := strconv.Atoi(name[1:])
	return n, err == nil && n >= 0
}

func (s *Server) move(cmd *gcodeCommand) error {
	pos := s.position
	axes := []struct {
		key string
		v   *float64
	}{{"X", &pos.X}, {"Y", &pos.Y}, {"Z", &pos.Z}}

	for _, a := range axes {
		raw, ok := cmd.Args[a.key]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("Unable to parse move '%s'", cmd.Raw)
		}
		if s.absolute {
			*a.v = v
		} else {
			*a.v += v
		}
	}
	if raw, ok := cmd.Args["F"]; ok {
		if f, err := strconv.ParseFloat(raw, 64); err != nil || f <= 0 {
			return fmt.Errorf("Invalid speed in '%s'", cmd.Raw)
		}
	}
	s.position = pos
	return nil
}

func (s *Server) sampleTrigger(tool int, method offsets.ZCalcMethod) float64 {
	base := s.tools[tool].Trigger
	samples := make([]float64, len(probeJitter))
	for i, j := range probeJitter {
		samples[i] = base + j
	}
	return offsets.Aggregate(samples, method, s.cfg.ZTrimCount)
}

func (s *Server) configMethod() offsets.ZCalcMethod {
	m, err := offsets.ParseZCalc(s.cfg.ZCalcMethod)
	if err != nil || m == offsets.ZCalcConfig {
		return offsets.ZCalcMedian
	}
	return m
}

// probeActive probes the mounted tool and stores its trigger. Its offset
// is relative to the last calibration reference when one exists.
func (s *Server) probeActive() error {
	if !s.cfg.Axiscope {
		return fmt.Errorf("Unknown command: PROBE_ZSWITCH")
	}
	if _, ok := s.tools[s.active]; !ok {
		return fmt.Errorf("No tool mounted")
	}
	trig := s.sampleTrigger(s.active, s.configMethod())
	offset := 0.0
	if ref, ok := s.probes[s.lastRef]; ok && s.active != s.lastRef {
		offset = trig - ref.ZTrigger
	}
	s.probes[s.active] = probeResult{ZTrigger: trig, ZOffset: offset, LastRun: s.eventtime(), RefTool: s.lastRef}
	return nil
}

func (s *Server) calibrate(cmd *gcodeCommand) error {
	if !s.cfg.Axiscope {
		return fmt.Errorf("Unknown command: CALIBRATE_ALL_Z_OFFSETS")
	}

	method := s.configMethod()
	if raw, ok := cmd.Args["Z_CALC"]; ok {
		m, err := offsets.ParseZCalc(raw)
		if err != nil {
			return fmt.Errorf("Invalid Z_CALC '%s'", raw)
		}
		if m != offsets.ZCalcConfig {
			method = m
		}
	}

	var requested []int
	if raw := cmd.Args["TOOLS"]; raw != "" {
		for _, part := range strings.Split(raw, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return fmt.Errorf("Invalid TOOLS '%s'", raw)
			}
			requested = append(requested, n)
		}
	}
	ref := s.cfg.DefaultRef
	if raw, ok := cmd.Args["REF"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("Invalid REF '%s'", raw)
		}
		ref = n
	}

	order, ref, ok := offsets.CalibrationOrder(requested, s.toolNumbers(), ref)
	if !ok {
		return fmt.Errorf("No valid tools to calibrate")
	}

	triggers := make(map[int]float64, len(order))
	for _, t := range order {
		triggers[t] = s.sampleTrigger(t, method)
		s.active = t
	}
	zoffs := offsets.ZOffsets(order, triggers, ref)

	now := s.eventtime()
	for _, t := range order {
		s.probes[t] = probeResult{ZTrigger: triggers[t], ZOffset: zoffs[t], LastRun: now, RefTool: ref}
	}
	s.lastRef = ref
	s.logger.WithFields(log.Fields{"tools": order, "ref": ref, "method": string(method)}).Info("calibration complete")
	return nil
}

var reParenComment = regexp.MustCompile(`\([^)]*\)`)

// parseGCodeLine parses one line into a command. Blank and comment-only
// lines return nil. Extended commands take KEY=VALUE words; classic
// commands take letter-prefixed words such as X10.5.
func parseGCodeLine(line string) *gcodeCommand {
	ln := strings.TrimSpace(line)
	if idx := strings.IndexByte(ln, ';'); idx >= 0 {
		ln = ln[:idx]
	}
	ln = strings.TrimSpace(reParenComment.ReplaceAllString(ln, " "))
	fields := strings.Fields(ln)
	if len(fields) == 0 {
		return nil
	}

	name := strings.ToUpper(fields[0])
	args := map[string]string{}
	for _, f := range fields[1:] {
		if k, v, ok := strings.Cut(f, "="); ok {
			if k = strings.ToUpper(strings.TrimSpace(k)); k != "" {
				args[k] = strings.TrimSpace(v)
			}
			continue
		}
		args[strings.ToUpper(f[:1])] = strings.TrimSpace(f[1:])
	}
	return &gcodeCommand{Name: name, Args: args, Raw: strings.TrimSpace(line)}
}

package panel

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"axiscope-panel/pkg/log"
)

// Command kinds.
const (
	KindCalibrate  = "calibrate"
	KindToolChange = "toolchange"
)

// CommandResult describes one G-code submission. Error is empty on
// success; Done is false while the firmware is still running it.
type CommandResult struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	Script   string    `json:"script"`
	Done     bool      `json:"done"`
	Error    string    `json:"error,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished,omitempty"`
}

// submit runs lines in the background and publishes the outcome. then,
// when set, runs after a successful script with the same context.
func (p *Panel) submit(kind string, lines []string, then func(ctx context.Context)) CommandResult {
	res := CommandResult{
		ID:      uuid.NewString(),
		Kind:    kind,
		Script:  strings.Join(lines, "\n"),
		Started: time.Now(),
	}

	p.mu.RLock()
	timeout := p.commandTimeout
	p.mu.RUnlock()

	entry := p.logger.WithFields(log.Fields{"id": res.ID, "kind": kind})
	entry.WithField("script", res.Script).Info("command submitted")

	p.wg.Add(1)
	go func(res CommandResult) {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(p.baseCtx, timeout)
		defer cancel()

		err := p.fw.RunScript(ctx, lines...)
		p.metrics.RecordCommand(kind, err)
		res.Done, res.Finished = true, time.Now()
		if err != nil {
			res.Error = err.Error()
			entry.WithError(err).Error("command failed")
		} else {
			entry.WithField("elapsed", res.Finished.Sub(res.Started).Round(time.Millisecond)).Info("command complete")
			if then != nil {
				then(ctx)
			}
		}
		p.hub.Broadcast(EventCommandResult, res)
	}(res)

	return res
}

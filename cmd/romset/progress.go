package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/meigma/romset"
)

// progressBars renders romset progress events as one bar per stage.
type progressBars struct {
	mu     sync.Mutex
	w      io.Writer
	stage  romset.ProgressStage
	bar    *progressbar.ProgressBar
	active bool
}

func newProgressBars(w io.Writer) *progressBars {
	return &progressBars{w: w}
}

// Func returns the callback to pass to romset options. A nil receiver
// returns nil, which disables reporting.
func (p *progressBars) Func() romset.ProgressFunc {
	if p == nil {
		return nil
	}
	return p.update
}

func (p *progressBars) update(e romset.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active || p.stage != e.Stage {
		p.finishLocked()
		total := e.Total
		if total == 0 {
			total = -1
		}
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription(e.Stage.String()),
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(65),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(p.w, "\n")
			}),
		)
		p.stage = e.Stage
		p.active = true
	}
	_ = p.bar.Set(e.Done) //nolint:errcheck // rendering errors are not actionable
}

// Finish completes the current bar, if any.
func (p *progressBars) Finish() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
}

func (p *progressBars) finishLocked() {
	if p.active {
		_ = p.bar.Finish() //nolint:errcheck // rendering errors are not actionable
		p.active = false
	}
}

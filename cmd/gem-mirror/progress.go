package main

import (
	"io"
	"log/slog"
	"sync"

	"github.com/cheggaaa/pb/v3"

	"github.com/steakknife/rubygems-mirror/internal/mirror"
)

const barTemplate = `{{string . "prefix"}} {{counters . }} {{bar . }} {{percent . }} {{etime . }}`

// barProgress renders phases as progress bars and remembers the latest
// counts so that they can be logged on demand.
type barProgress struct {
	out   io.Writer
	quiet bool

	mu        sync.Mutex
	bar       *pb.ProgressBar
	mirrorID  string
	phase     mirror.Phase
	completed int
	total     int
	failed    int
}

func newBarProgress(out io.Writer, quiet bool) *barProgress {
	return &barProgress{out: out, quiet: quiet}
}

func (p *barProgress) PhaseStarted(mirrorID string, phase mirror.Phase, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.mirrorID = mirrorID
	p.phase = phase
	p.completed = 0
	p.total = total
	p.failed = 0

	if p.quiet || total == 0 {
		p.bar = nil
		return
	}
	p.bar = pb.ProgressBarTemplate(barTemplate).New(total).
		Set("prefix", mirrorID+" "+string(phase)).
		SetWriter(p.out).
		Start()
}

func (p *barProgress) ItemDone(_ string, _ mirror.Phase, _ string, completed, _ int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.completed = completed
	if err != nil {
		p.failed++
	}
	if p.bar != nil {
		p.bar.SetCurrent(int64(completed))
	}
}

func (p *barProgress) PhaseFinished(_ string, _ mirror.Phase, _, _ int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar != nil {
		p.bar.Finish()
		p.bar = nil
	}
}

// logSnapshot logs the counts of the running phase.
func (p *barProgress) logSnapshot() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mirrorID == "" {
		slog.Info("progress", "state", "starting")
		return
	}
	slog.Info("progress", "repo", p.mirrorID, "phase", string(p.phase),
		"completed", p.completed, "total", p.total, "failed", p.failed)
}

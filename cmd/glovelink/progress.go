package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/feltsight/glovelink/internal/groutine"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// progressPrinter shows the current scan phase with the remaining time on one
// terminal line. Setting a stop phase through Callback ends the display.
// Single-use: Start once, Stop at least once.
type progressPrinter struct {
	out        io.Writer
	prefix     string
	duration   time.Duration // 0 counts up instead of down
	stopPhases map[string]struct{}

	phase    atomic.Value // string
	start    time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func newProgressPrinter(out io.Writer, prefix, phase string, duration time.Duration, stopPhases ...string) *progressPrinter {
	p := &progressPrinter{
		out:        out,
		prefix:     prefix,
		duration:   duration,
		stopPhases: make(map[string]struct{}, len(stopPhases)),
		done:       make(chan struct{}),
	}
	for _, s := range stopPhases {
		p.stopPhases[s] = struct{}{}
	}
	p.phase.Store(phase)
	return p
}

func (p *progressPrinter) Start() {
	p.start = time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.print()

	groutine.Go(ctx, "glovelink-progress", func(ctx context.Context) {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.print()
			}
		}
	})
}

func (p *progressPrinter) print() {
	phase := p.phase.Load().(string)
	elapsed := time.Since(p.start)
	seconds := int(elapsed.Seconds())
	if p.duration > 0 {
		seconds = 0
		if remaining := p.duration - elapsed; remaining > 0 {
			seconds = int(remaining.Seconds() + 0.5)
		}
	}
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
		return
	}
	fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
}

// Callback returns a scanner progress callback. Safe for concurrent use.
func (p *progressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, stop := p.stopPhases[phase]; stop {
			p.Stop()
		}
	}
}

// Stop ends the display and clears the line.
func (p *progressPrinter) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel == nil {
			return
		}
		p.cancel()
		<-p.done
		fmt.Fprint(p.out, clearLineSequence)
	})
}

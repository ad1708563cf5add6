package processor

import (
	"context"
	"sync"
)

// debugState implements pause/step/kill. The processor checks it between
// expressions; controllers flip it from other goroutines.
type debugState struct {
	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
	killed bool
	steps  int
}

func (d *debugState) init() {
	d.cond = sync.NewCond(&d.mu)
}

func (d *debugState) wake() {
	d.mu.Lock()
	d.cond.Broadcast()
	d.mu.Unlock()
}

// DebugPause makes the processor stop before its next expression.
func (p *Processor) DebugPause() {
	p.debug.mu.Lock()
	p.debug.paused = true
	p.debug.steps = 0
	p.debug.mu.Unlock()
}

// DebugContinue resumes a paused processor.
func (p *Processor) DebugContinue() {
	p.debug.mu.Lock()
	p.debug.paused = false
	p.debug.steps = 0
	p.debug.cond.Broadcast()
	p.debug.mu.Unlock()
}

// DebugStepNext lets a paused processor run one more expression, after
// which it pauses again. It has no effect on a running processor.
func (p *Processor) DebugStepNext() {
	p.debug.mu.Lock()
	if p.debug.paused {
		p.debug.steps++
		p.debug.cond.Broadcast()
	}
	p.debug.mu.Unlock()
}

// Kill aborts the processor. The running Solve or CallSingle returns
// ErrKilled at the next checkpoint; a killed processor stays dead.
func (p *Processor) Kill() {
	p.debug.mu.Lock()
	p.debug.killed = true
	p.debug.cond.Broadcast()
	p.debug.mu.Unlock()
}

// IsPaused reports whether the processor is paused.
func (p *Processor) IsPaused() bool {
	p.debug.mu.Lock()
	defer p.debug.mu.Unlock()
	return p.debug.paused
}

// IsKilled reports whether Kill was called.
func (p *Processor) IsKilled() bool {
	p.debug.mu.Lock()
	defer p.debug.mu.Unlock()
	return p.debug.killed
}

// Interrupted reports, without blocking, whether execution should stop:
// the processor was killed or its context is done. Long-running
// instructions poll it between items.
func (p *Processor) Interrupted() bool {
	return p.IsKilled() || p.ctx.Err() != nil
}

// checkpoint blocks while the processor is paused. It returns ErrKilled
// after Kill and ctx.Err() once the context is done.
func (p *Processor) checkpoint(ctx context.Context) error {
	d := &p.debug
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		if d.killed {
			return ErrKilled
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.paused {
			return nil
		}
		if d.steps > 0 {
			d.steps--
			return nil
		}
		d.cond.Wait()
	}
}

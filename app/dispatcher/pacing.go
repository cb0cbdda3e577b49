package dispatcher

import (
	"sync"
	"time"

	"github.com/mkarimv/Raijin/models"
)

// adaptive pacing tuning
const (
	paceWindowSize     = time.Minute
	adaptiveSampleSize = 20
	adaptiveStepUp     = 1.1
	adaptiveStepDown   = 0.8
	failRatioHigh      = 0.5
	failRatioLow       = 0.2
)

// paceWindow tracks one broadcast's rolling dial history and adaptive rate
type paceWindow struct {
	dials    []time.Time
	rate     float64
	outcomes []bool // true = answered by a human
}

// PacingController decides how many new calls each broadcast may place on a
// given tick. It clamps by rolling per-minute rate and by concurrency
// headroom, and optionally adapts the rate to the observed answer ratio.
//
// Authorize never fails: a misconfigured broadcast simply gets zero.
type PacingController struct {
	mu      sync.Mutex
	windows map[uint]*paceWindow
	nowFn   func() time.Time
}

// NewPacingController creates a new pacing controller
func NewPacingController() *PacingController {
	return &PacingController{
		windows: make(map[uint]*paceWindow),
		nowFn:   time.Now,
	}
}

// Authorize returns how many new calls the broadcast may place right now,
// given the number already in flight. The result is always >= 0.
func (p *PacingController) Authorize(broadcast *models.Broadcast, inFlight int) int {
	if broadcast == nil {
		return 0
	}
	spec := broadcast.Spec
	if spec.CallsPerMinute <= 0 || spec.MaxConcurrentCalls <= 0 {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.nowFn()
	w := p.window(broadcast.ID, spec)
	w.prune(now)

	rate := float64(spec.CallsPerMinute)
	if spec.EnableAdaptivePacing {
		rate = w.adaptiveRate(spec)
	}

	byRate := int(rate) - len(w.dials)
	byConcurrency := spec.MaxConcurrentCalls - inFlight

	n := byRate
	if byConcurrency < n {
		n = byConcurrency
	}
	if n < 0 {
		n = 0
	}
	return n
}

// NoteDialed records that a call was actually placed, consuming rate budget
func (p *PacingController) NoteDialed(broadcastID uint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.windows[broadcastID]
	if !ok {
		w = &paceWindow{}
		p.windows[broadcastID] = w
	}
	w.dials = append(w.dials, p.nowFn())
}

// NoteOutcome feeds a finished call back into the adaptive rate estimate
func (p *PacingController) NoteOutcome(broadcastID uint, answeredByHuman bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.windows[broadcastID]
	if !ok {
		return
	}
	w.outcomes = append(w.outcomes, answeredByHuman)
	if len(w.outcomes) > adaptiveSampleSize {
		w.outcomes = w.outcomes[len(w.outcomes)-adaptiveSampleSize:]
	}
}

// Reset drops all pacing state of a broadcast; called on stop
func (p *PacingController) Reset(broadcastID uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.windows, broadcastID)
}

func (p *PacingController) window(broadcastID uint, spec models.BroadcastSpec) *paceWindow {
	w, ok := p.windows[broadcastID]
	if !ok {
		w = &paceWindow{rate: float64(spec.CallsPerMinute)}
		p.windows[broadcastID] = w
	}
	if w.rate == 0 {
		w.rate = float64(spec.CallsPerMinute)
	}
	return w
}

func (w *paceWindow) prune(now time.Time) {
	cutoff := now.Add(-paceWindowSize)
	i := 0
	for ; i < len(w.dials); i++ {
		if w.dials[i].After(cutoff) {
			break
		}
	}
	w.dials = w.dials[i:]
}

// adaptiveRate scales the configured rate between the base and the ceiling
// based on the recent answer ratio. A window dominated by unanswered calls
// backs the rate down toward the base; a healthy answer ratio ramps it up.
func (w *paceWindow) adaptiveRate(spec models.BroadcastSpec) float64 {
	base := float64(spec.CallsPerMinute)
	ceiling := float64(spec.AdaptiveCeilingPerMinute)
	if ceiling < base {
		ceiling = base
	}

	if len(w.outcomes) < adaptiveSampleSize/2 {
		if w.rate < base {
			w.rate = base
		}
		return w.rate
	}

	failures := 0
	for _, answered := range w.outcomes {
		if !answered {
			failures++
		}
	}
	failRatio := float64(failures) / float64(len(w.outcomes))

	switch {
	case failRatio >= failRatioHigh:
		w.rate *= adaptiveStepDown
	case failRatio <= failRatioLow:
		w.rate *= adaptiveStepUp
	}

	if w.rate < base {
		w.rate = base
	}
	if w.rate > ceiling {
		w.rate = ceiling
	}
	return w.rate
}

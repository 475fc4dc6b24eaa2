package farm

import (
	"log/slog"
	"time"

	"github.com/nstehr/vimy/vimy-farm/events"
	"github.com/nstehr/vimy/vimy-farm/model"
)

// cycleGrace pads interval-driven deadlines.
const cycleGrace = time.Minute

// runMode decides how a run walks the pool.
type runMode interface {
	state() State
	// begin installs a run (or leaves the engine paused) and kicks analysis.
	begin(e *Engine, autoInit bool)
	// nextVillage selects the next origin. It returns false when there is
	// none; the mode may have ended the run by then.
	nextVillage(e *Engine) bool
	// active reports whether analysis may proceed.
	active() bool
}

// continuousMode rotates through the free villages forever.
type continuousMode struct {
	remaining []model.Village
}

func (m *continuousMode) state() State { return RunningContinuous }

func (m *continuousMode) active() bool { return true }

func (m *continuousMode) begin(e *Engine, autoInit bool) {
	free := e.pool.Free()
	if len(free) == 0 {
		e.publishNoVillages()
		if !autoInit {
			return
		}
		// An automatic restart must survive a moment where every village is
		// busy, or returning commands would have nothing to resume.
		r := e.newRun(m, autoInit)
		r.globalWaiting = true
		return
	}

	e.newRun(m, autoInit)
	m.remaining = free
	// A single village never rotates; it stays selected.
	if e.pool.Single() || m.nextVillage(e) {
		e.analyse()
	}
}

func (m *continuousMode) nextVillage(e *Engine) bool {
	if e.pool.Single() {
		return false
	}
	for refill := 0; refill < 2; refill++ {
		for len(m.remaining) > 0 {
			next := m.remaining[0]
			m.remaining = m.remaining[1:]
			if !e.pool.IsFree(next.ID) {
				continue
			}
			v, _ := e.pool.Find(next.ID)
			e.selectVillage(v)
			e.touchActivity()
			return true
		}
		m.remaining = e.pool.Free()
		if len(m.remaining) == 0 {
			break
		}
	}
	e.publishNoVillages()
	return false
}

type cyclePhase int

const (
	cycleIdle cyclePhase = iota
	cycleRunning
	cycleWaiting
)

// cycleMode attacks once from every free village, then either stops or
// schedules the next cycle after the configured interval.
type cycleMode struct {
	phase    cyclePhase
	worklist []model.Village
}

func (m *cycleMode) state() State { return RunningSingleCycle }

func (m *cycleMode) active() bool { return m.phase == cycleRunning }

func (m *cycleMode) begin(e *Engine, autoInit bool) {
	e.newRun(m, true)
	m.startCycle(e, autoInit)
}

func (m *cycleMode) startCycle(e *Engine, autoInit bool) {
	r := e.run
	r.globalWaiting = false
	s := e.settings.Get()

	free := e.pool.Free()
	if len(free) == 0 {
		if s.SingleCycleInterval > 0 {
			m.wait(e, s.SingleCycleInterval, true)
			return
		}
		e.bus.Publish(events.SingleCycleEnd{NoVillages: true})
		e.notice(false, events.LevelError, "singleCycleEndNoVillages")
		e.stopQuietly()
		return
	}

	e.notice(autoInit, events.LevelSuccess, "farmStarted")
	m.phase = cycleRunning
	m.worklist = free
	if m.nextVillage(e) {
		e.analyse()
	}
}

func (m *cycleMode) nextVillage(e *Engine) bool {
	for len(m.worklist) > 0 {
		next := m.worklist[0]
		m.worklist = m.worklist[1:]
		if !e.pool.IsFree(next.ID) {
			continue
		}
		v, _ := e.pool.Find(next.ID)
		e.selectVillage(v)
		e.touchActivity()
		return true
	}
	m.endCycle(e)
	return false
}

func (m *cycleMode) endCycle(e *Engine) {
	if m.phase != cycleRunning {
		return
	}
	s := e.settings.Get()
	if s.SingleCycleInterval > 0 {
		m.wait(e, s.SingleCycleInterval, false)
		return
	}
	e.bus.Publish(events.SingleCycleEnd{})
	e.notice(!s.SingleCycleNotifs, events.LevelSuccess, "singleCycleEnd")
	e.stopQuietly()
}

// wait schedules the next cycle.
func (m *cycleMode) wait(e *Engine, interval time.Duration, noVillages bool) {
	r := e.run
	m.phase = cycleWaiting
	m.worklist = nil
	at := e.clock.Now().Add(interval)
	slog.Info("single cycle finished", "run", r.id, "next", at, "noVillages", noVillages)

	e.bus.Publish(events.SingleCycleNext{At: at, NoVillages: noVillages})
	if noVillages {
		e.notice(false, events.LevelError, "singleCycleNextNoVillages")
	} else {
		e.noticeArgs(!e.settings.Get().SingleCycleNotifs, events.LevelSuccess, "singleCycleNext",
			map[string]any{"at": at})
	}
	e.after(r, interval, func() { m.startCycle(e, true) })
}

// stopQuietly ends the run without the pause notice.
func (e *Engine) stopQuietly() {
	release := e.notices.Suppress()
	defer release()
	e.Stop()
}

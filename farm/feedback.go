package farm

import (
	"log/slog"

	"github.com/nstehr/vimy/vimy-farm/events"
	"github.com/nstehr/vimy/vimy-farm/model"
)

// ReportWindow is the game window whose open state defers priority lookups.
const ReportWindow = "report"

// ReportReceived reacts to a new report while a run is active: losses push
// the target into the ignore group, full hauls queue it as a priority target
// for the attacking village.
func (e *Engine) ReportReceived(rep model.Report) {
	if e.run == nil || rep.Type != model.ReportTypeAttack {
		return
	}
	s := e.settings.Get()

	if s.IgnoreOnLoss && rep.Result != model.ResultNoCasualties {
		e.ignoreTarget(rep.TargetVillageID)
	}

	if s.PriorityTargets && rep.Haul == model.HaulFull {
		if e.reports.WindowOpen(ReportWindow) {
			e.reportQueue = append(e.reportQueue, rep)
			return
		}
		e.prioritise(rep)
	}
}

// WindowClosed flushes the reports buffered while the report window was open.
func (e *Engine) WindowClosed(name string) {
	if name != ReportWindow || len(e.reportQueue) == 0 {
		return
	}
	queued := e.reportQueue
	e.reportQueue = nil
	for _, rep := range queued {
		e.prioritise(rep)
	}
}

func (e *Engine) ignoreTarget(targetID int) {
	target, ok := e.catalog.Find(targetID)
	if !ok {
		return
	}
	groupID := e.pool.IgnoreGroup()
	if groupID == 0 {
		return
	}

	Async(e.loop, func() (struct{}, error) {
		return struct{}{}, e.groups.LinkVillage(e.ctx, groupID, targetID)
	}, func(_ struct{}, err error) {
		if err != nil {
			slog.Error("adding target to ignore group failed", "target", targetID, "group", groupID, "error", err)
			return
		}
		e.pool.Ignore(targetID)
		e.bus.Publish(events.IgnoredVillage{Target: target})
	})
}

func (e *Engine) prioritise(rep model.Report) {
	Async(e.loop, func() (model.ReportDetail, error) {
		return e.reports.ReportDetail(e.ctx, rep.ID)
	}, func(detail model.ReportDetail, err error) {
		if err != nil {
			slog.Error("fetching report failed", "report", rep.ID, "error", err)
			return
		}
		if !e.selector.AddPriority(detail.OriginID, detail.TargetID) {
			return
		}
		e.bus.Publish(events.PriorityTargetAdded{Target: model.Target{
			ID:   detail.TargetID,
			Name: detail.TargetName,
			X:    detail.TargetX,
			Y:    detail.TargetY,
		}})
	})
}

package domain

import "github.com/shopspring/decimal"

// predicateSet is the closed variant's own table of boundary checks,
// one instance per Position, replacing the teacher's string-keyed
// dispatch (REDESIGN FLAGS: "strategy dispatch by string position").
type predicateSet struct {
	slHit       func(ltp, sl decimal.Decimal) bool
	targetHit   func(ltp, t decimal.Decimal) bool
	enter       func(ltp, e, sl decimal.Decimal) bool
	running     func(prev, ltp, e decimal.Decimal) bool
	nearEntry   func(ltp, e decimal.Decimal) bool
	stillRuning func(ltp, e, t, sl decimal.Decimal) bool
}

var onePercent = decimal.NewFromInt(1)
var hundred = decimal.NewFromInt(100)

func withinOnePercent(diff, e decimal.Decimal) bool {
	if e.IsZero() {
		return false
	}
	pct := diff.Div(e).Mul(hundred)
	return pct.LessThanOrEqual(onePercent)
}

var longPredicates = predicateSet{
	slHit: func(ltp, sl decimal.Decimal) bool { return ltp.LessThanOrEqual(sl) },
	targetHit: func(ltp, t decimal.Decimal) bool { return ltp.GreaterThanOrEqual(t) },
	enter: func(ltp, e, sl decimal.Decimal) bool {
		return ltp.LessThan(e) && ltp.GreaterThan(sl)
	},
	running: func(prev, ltp, e decimal.Decimal) bool {
		return prev.LessThan(e) && ltp.GreaterThanOrEqual(e)
	},
	nearEntry: func(ltp, e decimal.Decimal) bool {
		if !ltp.GreaterThan(e) {
			return false
		}
		return withinOnePercent(ltp.Sub(e), e)
	},
	stillRuning: func(ltp, e, t, sl decimal.Decimal) bool {
		return e.LessThanOrEqual(ltp) && ltp.LessThan(t) && ltp.GreaterThan(sl)
	},
}

var shortPredicates = predicateSet{
	slHit: func(ltp, sl decimal.Decimal) bool { return ltp.GreaterThanOrEqual(sl) },
	targetHit: func(ltp, t decimal.Decimal) bool { return ltp.LessThanOrEqual(t) },
	enter: func(ltp, e, sl decimal.Decimal) bool {
		return ltp.GreaterThan(e) && ltp.LessThan(sl)
	},
	running: func(prev, ltp, e decimal.Decimal) bool {
		return prev.GreaterThan(e) && ltp.LessThanOrEqual(e)
	},
	nearEntry: func(ltp, e decimal.Decimal) bool {
		if !ltp.LessThan(e) {
			return false
		}
		return withinOnePercent(e.Sub(ltp), e)
	},
	stillRuning: func(ltp, e, t, sl decimal.Decimal) bool {
		return t.LessThan(ltp) && ltp.LessThan(sl)
	},
}

func predicatesFor(p Position) predicateSet {
	if p == PositionShort {
		return shortPredicates
	}
	return longPredicates
}

// Transition runs the §4.4 state table for one (alert, ltp) pair and
// returns the new status and entry_crossed flag. It is a pure function
// so it can be exhaustively table-tested without any cache/store
// machinery.
func Transition(a *Alert, ltp decimal.Decimal) (newStatus AlertStatus, newEntryCrossed bool) {
	pr := predicatesFor(a.Position)
	prev := a.PreviousReference()
	ec := a.EntryCrossed
	old := a.Status

	switch {
	case pr.slHit(ltp, a.StopLoss):
		return StatusSLHit, ec
	case pr.targetHit(ltp, a.TargetPrice) && ec:
		return StatusTargetHit, ec
	case pr.enter(ltp, a.EntryPrice, a.StopLoss) && !ec:
		return StatusEnter, true
	case ec && pr.running(prev, ltp, a.EntryPrice):
		return StatusRunning, ec
	case (old == StatusEnter || old == StatusRunning) && ec &&
		(pr.stillRuning(ltp, a.EntryPrice, a.TargetPrice, a.StopLoss) || pr.enter(ltp, a.EntryPrice, a.StopLoss)):
		return StatusRunning, ec
	case pr.nearEntry(ltp, a.EntryPrice) && !ec:
		return StatusNearEntry, ec
	default:
		return StatusPending, ec
	}
}

// ShouldSkip reports the §4.4 skip condition: the would-be update is
// an exact no-op against the alert's current recorded state.
func ShouldSkip(a *Alert, newStatus AlertStatus, ltp decimal.Decimal, newEntryCrossed bool) bool {
	if newStatus != a.Status || newEntryCrossed != a.EntryCrossed {
		return false
	}
	if a.LastLTP == nil {
		return false
	}
	return a.LastLTP.Equal(ltp)
}

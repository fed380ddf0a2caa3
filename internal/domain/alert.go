package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the closed variant replacing the teacher's string-typed
// "position"/"trend" dimension (see REDESIGN FLAGS): every predicate
// the Alert Engine needs is derived from this single field.
type Position string

const (
	PositionLong  Position = "long"
	PositionShort Position = "short"
)

// AlertStatus is the alert's place in the state machine. Once the
// status reaches SLHit or TargetHit the alert is terminal and is never
// re-evaluated again.
type AlertStatus string

const (
	StatusPending   AlertStatus = "pending"
	StatusNearEntry AlertStatus = "nearEntry"
	StatusEnter     AlertStatus = "enter"
	StatusRunning   AlertStatus = "running"
	StatusSLHit     AlertStatus = "slHit"
	StatusTargetHit AlertStatus = "targetHit"
)

// IsTerminal reports whether the status is one the engine never
// re-evaluates past.
func (s AlertStatus) IsTerminal() bool {
	return s == StatusSLHit || s == StatusTargetHit
}

// Alert is a user-owned trading plan. It is mutated only by the Alert
// Engine (Status, EntryCrossed, LastLTP); it is created and deleted by
// the external HTTP surface, out of scope for this core.
type Alert struct {
	ID             int64
	UserID         int64
	InstrumentKey  Symbol
	TradingSymbol  string
	Position       Position
	EntryPrice     decimal.Decimal
	StopLoss       decimal.Decimal
	TargetPrice    decimal.Decimal
	Level          int
	TradeType      string
	Status         AlertStatus
	EntryCrossed   bool
	LastLTP        *decimal.Decimal
	Cmp            *decimal.Decimal // legacy fallback for LastLTP, never written by the engine
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Owner is hydrated by the Alert Cache refresh; alerts whose owner
	// cannot be hydrated are dropped from the cache (§4.3).
	Owner User
}

// PreviousReference returns the price the "running" transition
// compares against: last_ltp, falling back to the legacy cmp field,
// falling back to the entry price itself.
func (a *Alert) PreviousReference() decimal.Decimal {
	if a.LastLTP != nil {
		return *a.LastLTP
	}
	if a.Cmp != nil {
		return *a.Cmp
	}
	return a.EntryPrice
}

// Validate checks the invariants from §3: for a long alert
// stop_loss < entry_price <= target_price; for a short alert
// target_price <= entry_price < stop_loss.
func (a *Alert) Validate() error {
	switch a.Position {
	case PositionLong:
		if !(a.StopLoss.LessThan(a.EntryPrice) && a.EntryPrice.LessThanOrEqual(a.TargetPrice)) {
			return ErrInvalidAlertBounds
		}
	case PositionShort:
		if !(a.TargetPrice.LessThanOrEqual(a.EntryPrice) && a.EntryPrice.LessThan(a.StopLoss)) {
			return ErrInvalidAlertBounds
		}
	default:
		return ErrInvalidPosition
	}
	return nil
}

// AlertUpdate is one non-skip transition produced by the Alert Engine
// for a single tick, the unit the engine accumulates into a bulk write.
type AlertUpdate struct {
	Alert        *Alert
	OldStatus    AlertStatus
	NewStatus    AlertStatus
	LTP          decimal.Decimal
	EntryCrossed bool
}

// Triggered reports whether this update belongs to the notification
// trigger set: {slHit, targetHit, enter} and the status actually
// changed.
func (u AlertUpdate) Triggered() bool {
	if u.OldStatus == u.NewStatus {
		return false
	}
	switch u.NewStatus {
	case StatusSLHit, StatusTargetHit, StatusEnter:
		return true
	default:
		return false
	}
}

// NotificationPriority returns the queue priority for a triggered
// update: terminal statuses are higher priority (1) than enter (2).
func (u AlertUpdate) NotificationPriority() int {
	if u.NewStatus == StatusSLHit || u.NewStatus == StatusTargetHit {
		return 1
	}
	return 2
}

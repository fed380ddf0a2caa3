package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a decoded market-data frame for one instrument. It is
// produced by the Feed Client, written to the last-tick map, broadcast
// to viewers, and then discarded.
type Tick struct {
	Symbol Symbol
	LTP    decimal.Decimal
	Open   *decimal.Decimal
	High   *decimal.Decimal
	Low    *decimal.Decimal
	Close  *decimal.Decimal
	Time   time.Time
}

// NewTick builds a Tick from a raw LTP as decoded off the wire. The
// upstream field is a protobuf double; NaN/Inf values are rejected
// here so no such value ever reaches the dedup/alert path.
func NewTick(sym Symbol, ltp float64, at time.Time) (Tick, error) {
	if math.IsNaN(ltp) || math.IsInf(ltp, 0) {
		return Tick{}, fmt.Errorf("tick: non-finite ltp %v for %s", ltp, sym)
	}
	return Tick{
		Symbol: sym,
		LTP:    decimal.NewFromFloat(ltp),
		Time:   at,
	}, nil
}


/*
fifo.go - Oldest-first application of an amount to open obligations

PURPOSE:
  Pours an amount into a list of obligations, oldest month first, until
  either the amount or the obligations run out. This is the inner loop of
  both the per-beneficiary allocation and the single-beneficiary legacy
  allocation.

RULES:
  1. Obligations are visited by month ascending (stable for equal months)
  2. Settled obligations and those with nothing outstanding are skipped
  3. Each application is min(remaining amount, outstanding on obligation)
  4. The walk stops as soon as the remaining amount reaches zero

EXAMPLE:
  amount 450, obligations Jan(due 300), Feb(due 300), Mar(due 300):
    Jan  +300
    Feb  +150
    remaining 0, Mar untouched

SEE ALSO:
  - kafala/allocator.go: Equal split, then FIFO per beneficiary
  - kafala/fifo.go: Legacy single-beneficiary allocation
*/
package generic

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Obligation is one open amount keyed by month.
type Obligation struct {
	ID      string
	Month   Month
	Due     decimal.Decimal
	Paid    decimal.Decimal
	Settled bool
}

// Outstanding is what is still owed on the obligation.
func (o Obligation) Outstanding() decimal.Decimal {
	return o.Due.Sub(o.Paid)
}

// Application records how much of the amount went to one obligation.
type Application struct {
	ObligationID string
	Month        Month
	Amount       decimal.Decimal
}

// ApplyFIFO applies amount to obligations oldest-first and returns the
// applications in the order they were made plus whatever could not be placed.
// The input slice is not modified.
func ApplyFIFO(amount decimal.Decimal, obligations []Obligation) ([]Application, decimal.Decimal) {
	ordered := make([]Obligation, len(obligations))
	copy(ordered, obligations)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Month.Before(ordered[j].Month)
	})

	remaining := amount
	var applications []Application
	for _, o := range ordered {
		if !remaining.IsPositive() {
			break
		}
		if o.Settled {
			continue
		}
		outstanding := o.Outstanding()
		if !outstanding.IsPositive() {
			continue
		}

		applied := decimal.Min(remaining, outstanding)
		applications = append(applications, Application{
			ObligationID: o.ID,
			Month:        o.Month,
			Amount:       applied,
		})
		remaining = remaining.Sub(applied)
	}
	return applications, remaining
}

// IsSettled is the single settled rule: paid covers due.
func IsSettled(paid, due decimal.Decimal) bool {
	return paid.GreaterThanOrEqual(due)
}

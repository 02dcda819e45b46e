/*
allocation.go - Allocation plans and results

PURPOSE:
  An allocation plan is the audit record of where a payment went: an
  ordered list of (beneficiary, sponsorship, installment, month, amount)
  lines. It is stored on the Payment and read back by reversal and by
  reporting.

LINE ORDER:
  Insertion order is significant: beneficiary-major, then month ascending
  within a beneficiary. Nothing re-sorts a plan after it is built.

VERSIONS:
  0  Bare JSON array of lines (early rows, read only)
  1  {"version":1,"source":"auto","lines":[...]}

  A payment without any plan is the legacy variant: reporting falls back to
  the payment date for those, it is not an error.

SEE ALSO:
  - allocator.go: Builds and applies plans
  - reporting.go: Reads plans for collected-per-month figures
*/
package kafala

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/kafala-engine/generic"
)

// PlanVersion is the version written by this package.
const PlanVersion = 1

// PlanSource tells how a plan was produced.
type PlanSource string

const (
	SourceAuto   PlanSource = "auto"   // equal split + FIFO per beneficiary
	SourceEdited PlanSource = "edited" // human-edited preview, applied as given
	SourceFIFO   PlanSource = "fifo"   // single-beneficiary legacy FIFO
)

// AllocationLine is one amount applied to one installment.
type AllocationLine struct {
	BeneficiaryID BeneficiaryID   `json:"beneficiaryId"`
	SponsorshipID SponsorshipID   `json:"sponsorshipId"`
	InstallmentID InstallmentID   `json:"installmentId"`
	Month         Month           `json:"month"`
	AmountApplied decimal.Decimal `json:"amountApplied"`
}

// AllocationPlan is the persisted allocation of one payment.
type AllocationPlan struct {
	Version int              `json:"version"`
	Source  PlanSource       `json:"source"`
	Lines   []AllocationLine `json:"lines"`
}

// NewPlan wraps lines in a current-version plan.
func NewPlan(source PlanSource, lines []AllocationLine) *AllocationPlan {
	if lines == nil {
		lines = []AllocationLine{}
	}
	return &AllocationPlan{Version: PlanVersion, Source: source, Lines: lines}
}

// Total is the sum applied by the plan.
func (p *AllocationPlan) Total() decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, l := range p.Lines {
		total = total.Add(l.AmountApplied)
	}
	return total
}

// IsLegacy reports whether the payment predates allocation plans.
func (p *AllocationPlan) IsLegacy() bool {
	return p == nil
}

// MarshalPlan encodes a plan for storage. A nil plan encodes to nil.
func MarshalPlan(p *AllocationPlan) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// UnmarshalPlan decodes a stored plan. Empty input and JSON null decode to
// nil (legacy payment). A bare array is read as a version 0 plan.
func UnmarshalPlan(data []byte) (*AllocationPlan, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	if data[0] == '[' {
		var lines []AllocationLine
		if err := json.Unmarshal(data, &lines); err != nil {
			return nil, fmt.Errorf("decode allocation lines: %w", err)
		}
		return &AllocationPlan{Version: 0, Source: SourceAuto, Lines: lines}, nil
	}

	var p AllocationPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode allocation plan: %w", err)
	}
	if p.Version > PlanVersion {
		return nil, fmt.Errorf("%w: allocation plan version %d is newer than %d",
			generic.ErrValidation, p.Version, PlanVersion)
	}
	if p.Source == "" {
		p.Source = SourceAuto
	}
	return &p, nil
}

// =============================================================================
// RESULT
// =============================================================================

// AllocationResult is what Allocate returns, in preview and commit alike.
type AllocationResult struct {
	Lines                []AllocationLine
	AmountsByBeneficiary map[BeneficiaryID]decimal.Decimal
	InstallmentsTouched  int
	AmountRemaining      decimal.Decimal

	// Installments holds the touched installments as they were before the
	// lines were applied (preview display).
	Installments map[InstallmentID]Installment
}

// Plan wraps the result lines for persistence.
func (r *AllocationResult) Plan(source PlanSource) *AllocationPlan {
	return NewPlan(source, r.Lines)
}

// summarize computes the totals of a line list against the original amount.
func summarize(amount decimal.Decimal, lines []AllocationLine) *AllocationResult {
	res := &AllocationResult{
		Lines:                lines,
		AmountsByBeneficiary: make(map[BeneficiaryID]decimal.Decimal),
		Installments:         make(map[InstallmentID]Installment),
	}
	touched := make(map[InstallmentID]struct{})
	applied := decimal.Zero
	for _, l := range lines {
		res.AmountsByBeneficiary[l.BeneficiaryID] = res.AmountsByBeneficiary[l.BeneficiaryID].Add(l.AmountApplied)
		touched[l.InstallmentID] = struct{}{}
		applied = applied.Add(l.AmountApplied)
	}
	res.InstallmentsTouched = len(touched)
	res.AmountRemaining = amount.Sub(applied)
	return res
}

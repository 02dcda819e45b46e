/*
reporting.go - Read-only rollups for the dashboard

PURPOSE:
  Aggregates the registry, the schedules and the allocation plans into the
  figures shown on the dashboard. Nothing here writes.

COLLECTED PER MONTH:
  Money is counted against the installment month it was allocated to, read
  from the payments' allocation plans. Legacy payments (no plan) count
  against the month of their payment date instead.

WINDOWS (relative to the current month M):
  Expected      M-12 .. M+11
  Collected     M-11 .. M
  Overdue       M-11 .. M (M itself is never overdue)
  Late sponsor  has an unsettled installment before M-6
  Top sponsors  KAFALA payments dated from M-12
*/
package kafala

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/kafala-engine/generic"
)

// Reporter computes dashboard figures from a store.
type Reporter struct {
	store Store
}

func NewReporter(store Store) *Reporter {
	return &Reporter{store: store}
}

type MonthAmount struct {
	Month  string          `json:"month"`
	Amount decimal.Decimal `json:"amount"`
}

type MonthCount struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

type AgeBucket struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

type TopSponsor struct {
	SponsorID SponsorID       `json:"sponsorId"`
	LastName  string          `json:"lastName"`
	FirstName string          `json:"firstName"`
	Total     decimal.Decimal `json:"total"`
}

// Dashboard is the full set of dashboard figures.
type Dashboard struct {
	Sponsors            int             `json:"sponsors"`
	Beneficiaries       int             `json:"beneficiaries"`
	Guardians           int             `json:"guardians"`
	KafalaReceivedMonth decimal.Decimal `json:"kafalaReceivedMonth"`
	AgeAlerts           int             `json:"ageAlerts"`
	LateSponsors        int             `json:"lateSponsors"`
	ExpectedByMonth     []MonthAmount   `json:"expectedByMonth"`
	CollectedByMonth    []MonthAmount   `json:"collectedByMonth"`
	RecoveryRate        decimal.Decimal `json:"recoveryRate"`
	ExpectedThisMonth   decimal.Decimal `json:"expectedThisMonth"`
	ActiveSponsors      int             `json:"activeSponsors"`
	InactiveSponsors    int             `json:"inactiveSponsors"`
	AgeDistribution     []AgeBucket     `json:"ageDistribution"`
	TopSponsors         []TopSponsor    `json:"topSponsors"`
	OverdueByMonth      []MonthCount    `json:"overdueByMonth"`
	AveragePledge       decimal.Decimal `json:"averagePledge"`
	MonthlyPaymentRate  decimal.Decimal `json:"monthlyPaymentRate"`
}

// LateThresholdMonths is how far behind a sponsor must be to count as late.
const LateThresholdMonths = 6

// TopSponsorsLimit bounds the top sponsors list.
const TopSponsorsLimit = 5

// Dashboard computes every figure at now.
func (r *Reporter) Dashboard(ctx context.Context, now time.Time) (*Dashboard, error) {
	sponsors, err := r.store.ListSponsors(ctx)
	if err != nil {
		return nil, err
	}
	beneficiaries, err := r.store.ListBeneficiaries(ctx)
	if err != nil {
		return nil, err
	}
	guardians, err := r.store.ListGuardians(ctx)
	if err != nil {
		return nil, err
	}
	sponsorships, err := r.store.ListSponsorships(ctx, SponsorshipFilter{})
	if err != nil {
		return nil, err
	}
	installments, err := r.store.FindInstallments(ctx, InstallmentFilter{})
	if err != nil {
		return nil, err
	}
	payments, err := r.store.ListPayments(ctx, PaymentFilter{Type: PaymentKafala})
	if err != nil {
		return nil, err
	}

	current := generic.MonthOf(now)
	d := &Dashboard{Sponsors: len(sponsors)}

	// Registry counts and ages
	for _, g := range guardians {
		if !g.Closed {
			d.Guardians++
		}
	}
	buckets := []AgeBucket{{Range: "0-5"}, {Range: "6-10"}, {Range: "11-15"}, {Range: "16-18"}}
	for _, b := range beneficiaries {
		if b.Closed {
			continue
		}
		d.Beneficiaries++
		age := CalculateAge(b.BirthDate, now)
		if IsEligibleForAlert(float64(age)) {
			d.AgeAlerts++
		}
		switch {
		case age <= 5:
			buckets[0].Count++
		case age <= 10:
			buckets[1].Count++
		case age <= 15:
			buckets[2].Count++
		case age <= 18:
			buckets[3].Count++
		}
	}
	d.AgeDistribution = buckets

	// Schedules
	sponsorOf := make(map[SponsorshipID]SponsorID, len(sponsorships))
	activeSponsor := make(map[SponsorID]bool)
	for _, sp := range sponsorships {
		sponsorOf[sp.ID] = sp.SponsorID
		if sp.ActiveAt(now) {
			activeSponsor[sp.SponsorID] = true
		}
	}

	expected := make(map[string]decimal.Decimal)
	overdue := make(map[string]int)
	late := make(map[SponsorID]bool)
	lateLimit := current.AddMonths(-LateThresholdMonths)
	for _, inst := range installments {
		key := inst.Month.Key()
		expected[key] = expected[key].Add(inst.AmountDue)
		if inst.Settled {
			continue
		}
		if inst.Month.Before(current) {
			overdue[key]++
		}
		if inst.Month.Before(lateLimit) {
			late[sponsorOf[inst.SponsorshipID]] = true
		}
	}
	d.LateSponsors = len(late)
	d.ExpectedThisMonth = expected[current.Key()]
	for i := -12; i <= 11; i++ {
		key := current.AddMonths(i).Key()
		d.ExpectedByMonth = append(d.ExpectedByMonth, MonthAmount{Month: key, Amount: expected[key]})
	}

	// Collections
	collected := CollectedByInstallmentMonth(payments)
	expected12, collected12 := decimal.Zero, decimal.Zero
	for i := -11; i <= 0; i++ {
		m := current.AddMonths(i)
		key := m.Key()
		d.CollectedByMonth = append(d.CollectedByMonth, MonthAmount{Month: key, Amount: collected[key]})
		expected12 = expected12.Add(expected[key])
		collected12 = collected12.Add(collected[key])

		count := 0
		if m.Before(current) {
			count = overdue[key]
		}
		d.OverdueByMonth = append(d.OverdueByMonth, MonthCount{Month: key, Count: count})
	}
	d.RecoveryRate = generic.Percent(collected12, expected12)

	// Sponsors
	d.ActiveSponsors = len(activeSponsor)
	d.InactiveSponsors = len(sponsors) - d.ActiveSponsors
	pledges := decimal.Zero
	byID := make(map[SponsorID]Sponsor, len(sponsors))
	for _, s := range sponsors {
		byID[s.ID] = s
		if activeSponsor[s.ID] {
			pledges = pledges.Add(s.PledgeValue)
		}
	}
	d.AveragePledge = generic.DivideMoney(pledges, d.ActiveSponsors)
	if d.ActiveSponsors == 0 {
		d.AveragePledge = decimal.Zero
	}

	// Payments
	monthStart, monthEnd := current.Time(), generic.EndOfMonth(current.Time())
	topFrom := current.AddMonths(-12).Time()
	paidThisMonth := make(map[SponsorID]bool)
	totals := make(map[SponsorID]decimal.Decimal)
	for _, p := range payments {
		date := p.Date.UTC()
		if !date.Before(monthStart) && !date.After(monthEnd) {
			d.KafalaReceivedMonth = d.KafalaReceivedMonth.Add(p.Amount)
			if p.SponsorID != "" {
				paidThisMonth[p.SponsorID] = true
			}
		}
		if p.SponsorID != "" && !date.Before(topFrom) {
			totals[p.SponsorID] = totals[p.SponsorID].Add(p.Amount)
		}
	}
	if d.ActiveSponsors > 0 {
		d.MonthlyPaymentRate = generic.Percent(decimal.NewFromInt(int64(len(paidThisMonth))), decimal.NewFromInt(int64(d.ActiveSponsors)))
	}
	d.TopSponsors = topSponsors(totals, byID, TopSponsorsLimit)

	return d, nil
}

// CollectedByInstallmentMonth sums allocated amounts per installment month
// ("2006-01"). Payments without a plan count against their payment month.
func CollectedByInstallmentMonth(payments []Payment) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, p := range payments {
		if p.Allocation.IsLegacy() {
			key := generic.MonthOf(p.Date.UTC()).Key()
			out[key] = out[key].Add(p.Amount)
			continue
		}
		for _, l := range p.Allocation.Lines {
			key := l.Month.Key()
			out[key] = out[key].Add(l.AmountApplied)
		}
	}
	return out
}

func topSponsors(totals map[SponsorID]decimal.Decimal, byID map[SponsorID]Sponsor, limit int) []TopSponsor {
	top := make([]TopSponsor, 0, len(totals))
	for id, total := range totals {
		s := byID[id]
		top = append(top, TopSponsor{SponsorID: id, LastName: s.LastName, FirstName: s.FirstName, Total: total})
	}
	sort.Slice(top, func(i, j int) bool {
		if !top[i].Total.Equal(top[j].Total) {
			return top[i].Total.GreaterThan(top[j].Total)
		}
		return top[i].SponsorID < top[j].SponsorID
	})
	if len(top) > limit {
		top = top[:limit]
	}
	return top
}

// =============================================================================
// SPONSORSHIP STATS
// =============================================================================

// InstallmentStats summarizes one sponsorship's schedule.
type InstallmentStats struct {
	Total           int             `json:"total"`
	Settled         int             `json:"settled"`
	Pending         int             `json:"pending"`
	AmountDue       decimal.Decimal `json:"amountDue"`
	AmountPaid      decimal.Decimal `json:"amountPaid"`
	AmountRemaining decimal.Decimal `json:"amountRemaining"`
}

// SponsorshipSummary is a sponsorship with its activity and schedule totals.
type SponsorshipSummary struct {
	Sponsorship Sponsorship
	Active      bool
	Stats       InstallmentStats
}

// SponsorshipStats lists sponsorships matching filter with their totals.
func (r *Reporter) SponsorshipStats(ctx context.Context, filter SponsorshipFilter, now time.Time) ([]SponsorshipSummary, error) {
	sponsorships, err := r.store.ListSponsorships(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]SponsorshipSummary, 0, len(sponsorships))
	for _, sp := range sponsorships {
		rows, err := r.store.FindInstallments(ctx, InstallmentFilter{SponsorshipID: sp.ID})
		if err != nil {
			return nil, err
		}
		sp.Installments = rows
		out = append(out, SponsorshipSummary{
			Sponsorship: sp,
			Active:      sp.ActiveAt(now),
			Stats:       StatsOf(rows),
		})
	}
	return out, nil
}

// StatsOf totals a list of installments.
func StatsOf(rows []Installment) InstallmentStats {
	st := InstallmentStats{Total: len(rows)}
	for _, inst := range rows {
		if inst.Settled {
			st.Settled++
		}
		st.AmountDue = st.AmountDue.Add(inst.AmountDue)
		st.AmountPaid = st.AmountPaid.Add(inst.AmountPaid)
	}
	st.Pending = st.Total - st.Settled
	st.AmountRemaining = st.AmountDue.Sub(st.AmountPaid)
	return st
}

// Package store provides an in-memory kafala.TxStore.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/kafala-engine/generic"
	"github.com/warp/kafala-engine/kafala"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every table in maps guarded by one mutex. Values are copied
// in and out, so callers never share state with the store.
type Memory struct {
	mu sync.Mutex
	d  *data
}

type data struct {
	sponsors      map[kafala.SponsorID]kafala.Sponsor
	guardians     map[kafala.GuardianID]kafala.Guardian
	beneficiaries map[kafala.BeneficiaryID]kafala.Beneficiary
	sponsorships  map[kafala.SponsorshipID]kafala.Sponsorship
	installments  map[kafala.InstallmentID]kafala.Installment
	scheduled     map[monthKey]kafala.InstallmentID
	payments      map[kafala.PaymentID]kafala.Payment
	receipts      map[kafala.ReceiptID]kafala.Receipt
	transfers     map[kafala.TransferID]kafala.Transfer
}

// monthKey enforces one installment per sponsorship and month.
type monthKey struct {
	SponsorshipID kafala.SponsorshipID
	Month         string
}

func newData() *data {
	return &data{
		sponsors:      make(map[kafala.SponsorID]kafala.Sponsor),
		guardians:     make(map[kafala.GuardianID]kafala.Guardian),
		beneficiaries: make(map[kafala.BeneficiaryID]kafala.Beneficiary),
		sponsorships:  make(map[kafala.SponsorshipID]kafala.Sponsorship),
		installments:  make(map[kafala.InstallmentID]kafala.Installment),
		scheduled:     make(map[monthKey]kafala.InstallmentID),
		payments:      make(map[kafala.PaymentID]kafala.Payment),
		receipts:      make(map[kafala.ReceiptID]kafala.Receipt),
		transfers:     make(map[kafala.TransferID]kafala.Transfer),
	}
}

func NewMemory() *Memory {
	return &Memory{d: newData()}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Concurrent units are serialized by the store mutex.
func (m *Memory) WithTx(ctx context.Context, fn func(kafala.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.d.clone()

	// The view shares the data but has its own (free) mutex.
	view := &Memory{d: m.d}

	if err := fn(view); err != nil {
		*m.d = *snapshot
		return err
	}
	return nil
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.sponsors {
		c.sponsors[k] = v
	}
	for k, v := range d.guardians {
		c.guardians[k] = v
	}
	for k, v := range d.beneficiaries {
		c.beneficiaries[k] = v
	}
	for k, v := range d.sponsorships {
		c.sponsorships[k] = copySponsorship(v)
	}
	for k, v := range d.installments {
		c.installments[k] = v
	}
	for k, v := range d.scheduled {
		c.scheduled[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = copyPayment(v)
	}
	for k, v := range d.receipts {
		c.receipts[k] = v
	}
	for k, v := range d.transfers {
		c.transfers[k] = v
	}
	return c
}

func copySponsorship(s kafala.Sponsorship) kafala.Sponsorship {
	if s.EndDate != nil {
		end := *s.EndDate
		s.EndDate = &end
	}
	s.Installments = nil
	return s
}

func copyPayment(p kafala.Payment) kafala.Payment {
	if p.Allocation != nil {
		plan := *p.Allocation
		plan.Lines = append([]kafala.AllocationLine(nil), p.Allocation.Lines...)
		p.Allocation = &plan
	}
	return p
}

// =============================================================================
// SPONSORS
// =============================================================================

func (m *Memory) SaveSponsor(_ context.Context, s kafala.Sponsor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.sponsors[s.ID] = s
	return nil
}

func (m *Memory) FindSponsor(_ context.Context, id kafala.SponsorID) (*kafala.Sponsor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.d.sponsors[id]
	if !ok {
		return nil, generic.NewNotFound("sponsor", string(id))
	}
	return &s, nil
}

func (m *Memory) UpdateSponsor(_ context.Context, id kafala.SponsorID, patch kafala.SponsorPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.d.sponsors[id]
	if !ok {
		return generic.NewNotFound("sponsor", string(id))
	}
	if patch.PledgeValue != nil {
		s.PledgeValue = *patch.PledgeValue
	}
	if patch.ActiveSponsorshipCount != nil {
		s.ActiveSponsorshipCount = *patch.ActiveSponsorshipCount
	}
	m.d.sponsors[id] = s
	return nil
}

func (m *Memory) ListSponsors(_ context.Context) ([]kafala.Sponsor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]kafala.Sponsor, 0, len(m.d.sponsors))
	for _, s := range m.d.sponsors {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastName+string(out[i].ID) < out[j].LastName+string(out[j].ID) })
	return out, nil
}

// =============================================================================
// REGISTRY
// =============================================================================

func (m *Memory) SaveGuardian(_ context.Context, g kafala.Guardian) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.guardians[g.ID] = g
	return nil
}

func (m *Memory) FindGuardian(_ context.Context, id kafala.GuardianID) (*kafala.Guardian, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.d.guardians[id]
	if !ok {
		return nil, generic.NewNotFound("guardian", string(id))
	}
	return &g, nil
}

func (m *Memory) ListGuardians(_ context.Context) ([]kafala.Guardian, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]kafala.Guardian, 0, len(m.d.guardians))
	for _, g := range m.d.guardians {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveBeneficiary(_ context.Context, b kafala.Beneficiary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.beneficiaries[b.ID] = b
	return nil
}

func (m *Memory) FindBeneficiary(_ context.Context, id kafala.BeneficiaryID) (*kafala.Beneficiary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.d.beneficiaries[id]
	if !ok {
		return nil, generic.NewNotFound("beneficiary", string(id))
	}
	return &b, nil
}

func (m *Memory) ListBeneficiaries(_ context.Context) ([]kafala.Beneficiary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]kafala.Beneficiary, 0, len(m.d.beneficiaries))
	for _, b := range m.d.beneficiaries {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveReceipt(_ context.Context, r kafala.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.receipts[r.ID] = r
	return nil
}

func (m *Memory) ListReceipts(_ context.Context, sponsorID kafala.SponsorID) ([]kafala.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []kafala.Receipt
	for _, r := range m.d.receipts {
		if sponsorID == "" || r.SponsorID == sponsorID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (m *Memory) SaveTransfer(_ context.Context, t kafala.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.transfers[t.ID] = t
	return nil
}

func (m *Memory) ListTransfers(_ context.Context, sponsorID kafala.SponsorID) ([]kafala.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []kafala.Transfer
	for _, t := range m.d.transfers {
		if sponsorID == "" || t.SponsorID == sponsorID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

// =============================================================================
// SPONSORSHIPS
// =============================================================================

func (m *Memory) SaveSponsorship(_ context.Context, s kafala.Sponsorship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.sponsorships[s.ID] = copySponsorship(s)
	return nil
}

func (m *Memory) FindSponsorship(_ context.Context, id kafala.SponsorshipID) (*kafala.Sponsorship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.d.sponsorships[id]
	if !ok {
		return nil, generic.NewNotFound("sponsorship", string(id))
	}
	s = copySponsorship(s)
	return &s, nil
}

func (m *Memory) ListSponsorships(_ context.Context, filter kafala.SponsorshipFilter) ([]kafala.Sponsorship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []kafala.Sponsorship
	for _, s := range m.d.sponsorships {
		if filter.SponsorID != "" && s.SponsorID != filter.SponsorID {
			continue
		}
		if filter.BeneficiaryID != "" && s.BeneficiaryID != filter.BeneficiaryID {
			continue
		}
		out = append(out, copySponsorship(s))
	}
	sortByStart(out)
	return out, nil
}

func (m *Memory) DeleteSponsorship(_ context.Context, id kafala.SponsorshipID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.d.sponsorships[id]; !ok {
		return generic.NewNotFound("sponsorship", string(id))
	}
	delete(m.d.sponsorships, id)
	return nil
}

func (m *Memory) FindActiveSponsorships(_ context.Context, sponsorID kafala.SponsorID, now time.Time) ([]kafala.Sponsorship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	unsettled := false
	var out []kafala.Sponsorship
	for _, s := range m.d.sponsorships {
		if s.SponsorID != sponsorID || !kafala.IsActive(s.EndDate, now) {
			continue
		}
		s = copySponsorship(s)
		s.Installments = m.d.findInstallments(kafala.InstallmentFilter{SponsorshipID: s.ID, Settled: &unsettled})
		out = append(out, s)
	}
	sortByStart(out)
	return out, nil
}

func (m *Memory) FindActiveSponsorshipForBeneficiary(_ context.Context, beneficiaryID kafala.BeneficiaryID, now time.Time) (*kafala.Sponsorship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []kafala.Sponsorship
	for _, s := range m.d.sponsorships {
		if s.BeneficiaryID == beneficiaryID && kafala.IsActive(s.EndDate, now) {
			matches = append(matches, copySponsorship(s))
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sortByStart(matches)
	return &matches[0], nil
}

func (m *Memory) CountActiveSponsorships(_ context.Context, sponsorID kafala.SponsorID, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.d.sponsorships {
		if s.SponsorID == sponsorID && kafala.IsActive(s.EndDate, now) {
			n++
		}
	}
	return n, nil
}

func sortByStart(list []kafala.Sponsorship) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].StartDate.Equal(list[j].StartDate) {
			return list[i].StartDate.Before(list[j].StartDate)
		}
		return list[i].ID < list[j].ID
	})
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func (m *Memory) CreateInstallments(_ context.Context, batch []kafala.Installment) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created := 0
	for _, inst := range batch {
		k := monthKey{SponsorshipID: inst.SponsorshipID, Month: inst.Month.Key()}
		if _, exists := m.d.scheduled[k]; exists {
			continue
		}
		if _, exists := m.d.installments[inst.ID]; exists {
			continue
		}
		m.d.installments[inst.ID] = inst
		m.d.scheduled[k] = inst.ID
		created++
	}
	return created, nil
}

func (m *Memory) FindInstallment(_ context.Context, id kafala.InstallmentID) (*kafala.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.d.installments[id]
	if !ok {
		return nil, generic.NewNotFound("installment", string(id))
	}
	return &inst, nil
}

func (m *Memory) FindInstallments(_ context.Context, filter kafala.InstallmentFilter) ([]kafala.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.findInstallments(filter), nil
}

func (d *data) findInstallments(filter kafala.InstallmentFilter) []kafala.Installment {
	var out []kafala.Installment
	for _, inst := range d.installments {
		if matches(inst, filter) {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Month.Equal(out[j].Month) {
			return out[i].Month.Before(out[j].Month)
		}
		return out[i].SponsorshipID < out[j].SponsorshipID
	})
	return out
}

func matches(inst kafala.Installment, f kafala.InstallmentFilter) bool {
	if f.SponsorshipID != "" && inst.SponsorshipID != f.SponsorshipID {
		return false
	}
	if f.Settled != nil && inst.Settled != *f.Settled {
		return false
	}
	if f.From != nil && inst.Month.Before(*f.From) {
		return false
	}
	if f.To != nil && !inst.Month.Before(*f.To) {
		return false
	}
	if f.Unpaid && !inst.AmountPaid.IsZero() {
		return false
	}
	return true
}

func (m *Memory) UpdateInstallment(_ context.Context, id kafala.InstallmentID, patch kafala.InstallmentPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.d.installments[id]
	if !ok {
		return generic.NewNotFound("installment", string(id))
	}
	m.d.installments[id] = applyPatch(inst, patch)
	return nil
}

func (m *Memory) UpdateInstallments(_ context.Context, filter kafala.InstallmentFilter, patch kafala.InstallmentPatch) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, inst := range m.d.installments {
		if matches(inst, filter) {
			m.d.installments[id] = applyPatch(inst, patch)
			n++
		}
	}
	return n, nil
}

func applyPatch(inst kafala.Installment, patch kafala.InstallmentPatch) kafala.Installment {
	if patch.AmountDue != nil {
		inst.AmountDue = *patch.AmountDue
	}
	if patch.AmountPaid != nil {
		inst.AmountPaid = *patch.AmountPaid
	}
	if patch.Settled != nil {
		inst.Settled = *patch.Settled
	}
	return inst
}

func (m *Memory) DeleteInstallments(_ context.Context, filter kafala.InstallmentFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, inst := range m.d.installments {
		if matches(inst, filter) {
			delete(m.d.installments, id)
			delete(m.d.scheduled, monthKey{SponsorshipID: inst.SponsorshipID, Month: inst.Month.Key()})
			n++
		}
	}
	return n, nil
}

func (m *Memory) LastInstallmentMonth(_ context.Context, id kafala.SponsorshipID) (kafala.Month, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last kafala.Month
	found := false
	for _, inst := range m.d.installments {
		if inst.SponsorshipID != id {
			continue
		}
		if !found || inst.Month.After(last) {
			last = inst.Month
			found = true
		}
	}
	return last, found, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Memory) SavePayment(_ context.Context, p kafala.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d.payments[p.ID] = copyPayment(p)
	return nil
}

func (m *Memory) FindPayment(_ context.Context, id kafala.PaymentID) (*kafala.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.d.payments[id]
	if !ok {
		return nil, generic.NewNotFound("payment", string(id))
	}
	p = copyPayment(p)
	return &p, nil
}

func (m *Memory) ListPayments(_ context.Context, f kafala.PaymentFilter) ([]kafala.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []kafala.Payment
	for _, p := range m.d.payments {
		switch {
		case f.SponsorID != "" && p.SponsorID != f.SponsorID,
			f.BeneficiaryID != "" && p.BeneficiaryID != f.BeneficiaryID,
			f.GuardianID != "" && p.GuardianID != f.GuardianID,
			f.Type != "" && p.Type != f.Type,
			f.From != nil && p.Date.Before(*f.From),
			f.To != nil && p.Date.After(*f.To):
			continue
		}
		out = append(out, copyPayment(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) DeletePayment(_ context.Context, id kafala.PaymentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.d.payments[id]; !ok {
		return generic.NewNotFound("payment", string(id))
	}
	delete(m.d.payments, id)
	return nil
}

var _ kafala.TxStore = (*Memory)(nil)

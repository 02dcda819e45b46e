/*
dto.go - Data Transfer Objects for API responses

PURPOSE:
  Defines the JSON shapes returned to clients. Domain types in kafala carry
  no JSON tags (except the allocation plan, which is also the stored format),
  so every response goes through a DTO here.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Response: Complex response wrappers

  Request bodies are parsed by the factory package, not here.

MONEY:
  decimal.Decimal marshals as a JSON string ("600.5"), never a float.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/factory.go: Request body types
*/
package api

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/kafala-engine/kafala"
)

// =============================================================================
// REGISTRY
// =============================================================================

type SponsorDTO struct {
	ID                     string          `json:"id"`
	Type                   string          `json:"type"`
	LastName               string          `json:"lastName"`
	FirstName              string          `json:"firstName"`
	DisplayName            string          `json:"displayName"`
	CIN                    string          `json:"cin,omitempty"`
	ICE                    string          `json:"ice,omitempty"`
	Email                  string          `json:"email,omitempty"`
	Phone                  string          `json:"phone,omitempty"`
	Address                string          `json:"address,omitempty"`
	PledgeValue            decimal.Decimal `json:"pledgeValue"`
	ActiveSponsorshipCount int             `json:"activeSponsorshipCount"`
	CreatedAt              time.Time       `json:"createdAt"`
}

func toSponsorDTO(s kafala.Sponsor) SponsorDTO {
	return SponsorDTO{
		ID:                     string(s.ID),
		Type:                   string(s.Type),
		LastName:               s.LastName,
		FirstName:              s.FirstName,
		DisplayName:            s.DisplayName(),
		CIN:                    s.CIN,
		ICE:                    s.ICE,
		Email:                  s.Email,
		Phone:                  s.Phone,
		Address:                s.Address,
		PledgeValue:            s.PledgeValue,
		ActiveSponsorshipCount: s.ActiveSponsorshipCount,
		CreatedAt:              s.CreatedAt,
	}
}

type GuardianDTO struct {
	ID        string    `json:"id"`
	LastName  string    `json:"lastName"`
	FirstName string    `json:"firstName"`
	CIN       string    `json:"cin,omitempty"`
	RIB       string    `json:"rib,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Closed    bool      `json:"closed"`
	CreatedAt time.Time `json:"createdAt"`
}

func toGuardianDTO(g kafala.Guardian) GuardianDTO {
	return GuardianDTO{
		ID:        string(g.ID),
		LastName:  g.LastName,
		FirstName: g.FirstName,
		CIN:       g.CIN,
		RIB:       g.RIB,
		Phone:     g.Phone,
		Address:   g.Address,
		Closed:    g.Closed,
		CreatedAt: g.CreatedAt,
	}
}

type BeneficiaryDTO struct {
	ID         string    `json:"id"`
	LastName   string    `json:"lastName"`
	FirstName  string    `json:"firstName"`
	BirthDate  string    `json:"birthDate"`
	GuardianID string    `json:"guardianId"`
	Age        int       `json:"age"`
	AgeAlert   bool      `json:"ageAlert"`
	Closed     bool      `json:"closed"`
	CreatedAt  time.Time `json:"createdAt"`
}

// toBeneficiaryDTO reports the cached age; the scheduler keeps it fresh.
func toBeneficiaryDTO(b kafala.Beneficiary) BeneficiaryDTO {
	return BeneficiaryDTO{
		ID:         string(b.ID),
		LastName:   b.LastName,
		FirstName:  b.FirstName,
		BirthDate:  b.BirthDate.Format("2006-01-02"),
		GuardianID: string(b.GuardianID),
		Age:        b.AgeCache,
		AgeAlert:   kafala.IsEligibleForAlert(float64(b.AgeCache)),
		Closed:     b.Closed,
		CreatedAt:  b.CreatedAt,
	}
}

type ReceiptDTO struct {
	ID        string          `json:"id"`
	Number    string          `json:"number"`
	SponsorID string          `json:"sponsorId,omitempty"`
	ICE       string          `json:"ice,omitempty"`
	Total     decimal.Decimal `json:"total"`
	Type      string          `json:"type"`
	Lines     map[string]any  `json:"lines,omitempty"`
	IssuedAt  time.Time       `json:"issuedAt"`
}

func toReceiptDTO(r kafala.Receipt) ReceiptDTO {
	return ReceiptDTO{
		ID:        string(r.ID),
		Number:    r.Number,
		SponsorID: string(r.SponsorID),
		ICE:       r.ICE,
		Total:     r.Total,
		Type:      string(r.Type),
		Lines:     r.Lines,
		IssuedAt:  r.IssuedAt,
	}
}

type TransferDTO struct {
	ID            string          `json:"id"`
	GuardianID    string          `json:"guardianId"`
	BeneficiaryID string          `json:"beneficiaryId"`
	SponsorID     string          `json:"sponsorId"`
	PledgeValue   decimal.Decimal `json:"pledgeValue"`
	Months        int             `json:"months"`
	Total         decimal.Decimal `json:"total"`
	Date          time.Time       `json:"date"`
}

func toTransferDTO(t kafala.Transfer) TransferDTO {
	return TransferDTO{
		ID:            string(t.ID),
		GuardianID:    string(t.GuardianID),
		BeneficiaryID: string(t.BeneficiaryID),
		SponsorID:     string(t.SponsorID),
		PledgeValue:   t.PledgeValue,
		Months:        t.Months,
		Total:         t.PledgeValue.Mul(decimal.NewFromInt(int64(t.Months))),
		Date:          t.Date,
	}
}

// =============================================================================
// SPONSORSHIPS & INSTALLMENTS
// =============================================================================

type InstallmentDTO struct {
	ID            string          `json:"id"`
	SponsorshipID string          `json:"sponsorshipId"`
	Month         string          `json:"month"`
	AmountDue     decimal.Decimal `json:"amountDue"`
	AmountPaid    decimal.Decimal `json:"amountPaid"`
	Remaining     decimal.Decimal `json:"remaining"`
	Settled       bool            `json:"settled"`
}

func toInstallmentDTO(i kafala.Installment) InstallmentDTO {
	return InstallmentDTO{
		ID:            string(i.ID),
		SponsorshipID: string(i.SponsorshipID),
		Month:         i.Month.Key(),
		AmountDue:     i.AmountDue,
		AmountPaid:    i.AmountPaid,
		Remaining:     i.Remaining(),
		Settled:       i.Settled,
	}
}

type SponsorshipDTO struct {
	ID            string                   `json:"id"`
	SponsorID     string                   `json:"sponsorId"`
	BeneficiaryID string                   `json:"beneficiaryId"`
	StartDate     time.Time                `json:"startDate"`
	EndDate       *time.Time               `json:"endDate"`
	PledgeValue   decimal.Decimal          `json:"pledgeValue"`
	Active        bool                     `json:"active"`
	Stats         *kafala.InstallmentStats `json:"stats,omitempty"`
	Installments  []InstallmentDTO         `json:"installments,omitempty"`
	CreatedAt     time.Time                `json:"createdAt"`
}

func toSponsorshipDTO(sp kafala.Sponsorship, now time.Time) SponsorshipDTO {
	dto := SponsorshipDTO{
		ID:            string(sp.ID),
		SponsorID:     string(sp.SponsorID),
		BeneficiaryID: string(sp.BeneficiaryID),
		StartDate:     sp.StartDate,
		EndDate:       sp.EndDate,
		PledgeValue:   sp.PledgeValue,
		Active:        sp.ActiveAt(now),
		CreatedAt:     sp.CreatedAt,
	}
	for _, inst := range sp.Installments {
		dto.Installments = append(dto.Installments, toInstallmentDTO(inst))
	}
	return dto
}

func toSummaryDTO(s kafala.SponsorshipSummary, now time.Time) SponsorshipDTO {
	dto := toSponsorshipDTO(s.Sponsorship, now)
	stats := s.Stats
	dto.Stats = &stats
	return dto
}

// =============================================================================
// PAYMENTS & ALLOCATION
// =============================================================================

type PaymentDTO struct {
	ID            string                 `json:"id"`
	Amount        decimal.Decimal        `json:"amount"`
	Date          time.Time              `json:"date"`
	Type          string                 `json:"type"`
	SponsorID     string                 `json:"sponsorId,omitempty"`
	BeneficiaryID string                 `json:"beneficiaryId,omitempty"`
	GuardianID    string                 `json:"guardianId,omitempty"`
	ReceiptID     string                 `json:"receiptId,omitempty"`
	Allocation    *kafala.AllocationPlan `json:"allocation"`
	Allocated     decimal.Decimal        `json:"allocated"`
	CreatedAt     time.Time              `json:"createdAt"`
}

func toPaymentDTO(p kafala.Payment) PaymentDTO {
	return PaymentDTO{
		ID:            string(p.ID),
		Amount:        p.Amount,
		Date:          p.Date,
		Type:          string(p.Type),
		SponsorID:     string(p.SponsorID),
		BeneficiaryID: string(p.BeneficiaryID),
		GuardianID:    string(p.GuardianID),
		ReceiptID:     string(p.ReceiptID),
		Allocation:    p.Allocation,
		Allocated:     p.Allocation.Total(),
		CreatedAt:     p.CreatedAt,
	}
}

// PreviewLineDTO is an allocation line with the installment it lands on, as
// it was before the line. Clients edit these and send them back as the
// payment's allocation.
type PreviewLineDTO struct {
	kafala.AllocationLine
	AmountDue  decimal.Decimal `json:"amountDue"`
	AmountPaid decimal.Decimal `json:"amountPaid"`
}

type BeneficiaryAmountDTO struct {
	BeneficiaryID string          `json:"beneficiaryId"`
	Amount        decimal.Decimal `json:"amount"`
}

type AllocationDTO struct {
	Lines                []PreviewLineDTO       `json:"lines"`
	AmountsByBeneficiary []BeneficiaryAmountDTO `json:"amountsByBeneficiary"`
	InstallmentsTouched  int                    `json:"installmentsTouched"`
	AmountRemaining      decimal.Decimal        `json:"amountRemaining"`
}

func toAllocationDTO(res *kafala.AllocationResult) *AllocationDTO {
	if res == nil {
		return nil
	}
	dto := &AllocationDTO{
		Lines:               make([]PreviewLineDTO, 0, len(res.Lines)),
		InstallmentsTouched: res.InstallmentsTouched,
		AmountRemaining:     res.AmountRemaining,
	}
	for _, l := range res.Lines {
		line := PreviewLineDTO{AllocationLine: l}
		if inst, ok := res.Installments[l.InstallmentID]; ok {
			line.AmountDue = inst.AmountDue
			line.AmountPaid = inst.AmountPaid
		}
		dto.Lines = append(dto.Lines, line)
	}
	for id, amount := range res.AmountsByBeneficiary {
		dto.AmountsByBeneficiary = append(dto.AmountsByBeneficiary, BeneficiaryAmountDTO{
			BeneficiaryID: string(id),
			Amount:        amount,
		})
	}
	sort.Slice(dto.AmountsByBeneficiary, func(i, j int) bool {
		return dto.AmountsByBeneficiary[i].BeneficiaryID < dto.AmountsByBeneficiary[j].BeneficiaryID
	})
	return dto
}

// PaymentResponse is returned by payment creation.
type PaymentResponse struct {
	Payment    PaymentDTO     `json:"payment"`
	Allocation *AllocationDTO `json:"allocation"`
}

// =============================================================================
// SCENARIOS & ADMIN
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// JobResultDTO reports a manually triggered maintenance job.
type JobResultDTO struct {
	Job     string `json:"job"`
	Changed int    `json:"changed"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

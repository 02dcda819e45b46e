// Package kafala implements sponsorship dues and payment allocation for an
// orphan-welfare charity. It uses the generic money and FIFO primitives with
// sponsor/orphan specific rules: monthly installments per sponsorship, due
// amounts derived from the sponsor's pledge, and an equal-split FIFO allocator.
package kafala

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/kafala-engine/generic"
)

// Month is the first-of-month key installments are scheduled on.
type Month = generic.Month

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SponsorID string
type GuardianID string
type BeneficiaryID string
type SponsorshipID string
type InstallmentID string
type PaymentID string
type ReceiptID string
type TransferID string

// =============================================================================
// SPONSOR (parrain)
// =============================================================================

type SponsorType string

const (
	SponsorIndividual   SponsorType = "PERSONNE_PHYSIQUE"
	SponsorOrganization SponsorType = "SOCIETE"
)

// Valid reports whether t is a known sponsor type.
func (t SponsorType) Valid() bool {
	return t == SponsorIndividual || t == SponsorOrganization
}

// Sponsor commits PledgeValue every month, divided across its active
// sponsorships. ActiveSponsorshipCount is a cache written only by
// RecomputeActiveCount.
type Sponsor struct {
	ID          SponsorID
	Type        SponsorType
	LastName    string
	FirstName   string
	CIN         string
	ICE         string
	Email       string
	Phone       string
	Address     string
	PledgeValue decimal.Decimal

	ActiveSponsorshipCount int

	CreatedAt time.Time
}

// DisplayName is "LastName FirstName" without trailing blanks.
func (s Sponsor) DisplayName() string {
	if s.FirstName == "" {
		return s.LastName
	}
	return s.LastName + " " + s.FirstName
}

// SponsorPatch lists the sponsor fields the engine writes.
type SponsorPatch struct {
	PledgeValue            *decimal.Decimal
	ActiveSponsorshipCount *int
}

// =============================================================================
// GUARDIAN (veuve) & BENEFICIARY (orphelin)
// =============================================================================

type Guardian struct {
	ID        GuardianID
	LastName  string
	FirstName string
	CIN       string
	RIB       string
	Phone     string
	Address   string
	Closed    bool
	CreatedAt time.Time
}

// Beneficiary is a sponsored child. AgeCache mirrors CalculateAge(BirthDate)
// and is rewritten whenever BirthDate is written.
type Beneficiary struct {
	ID         BeneficiaryID
	LastName   string
	FirstName  string
	BirthDate  time.Time
	GuardianID GuardianID
	Closed     bool
	AgeCache   int
	CreatedAt  time.Time
}

// =============================================================================
// SPONSORSHIP (parrainage)
// =============================================================================

// Sponsorship links one sponsor to one beneficiary from StartDate until
// EndDate (nil = open ended). Installments is only populated by queries that
// say so (FindActiveSponsorships loads the unsettled ones).
type Sponsorship struct {
	ID            SponsorshipID
	SponsorID     SponsorID
	BeneficiaryID BeneficiaryID
	StartDate     time.Time
	EndDate       *time.Time
	PledgeValue   decimal.Decimal
	CreatedAt     time.Time

	Installments []Installment
}

// ActiveAt reports whether the sponsorship is active at now.
func (s Sponsorship) ActiveAt(now time.Time) bool {
	return IsActive(s.EndDate, now)
}

type SponsorshipFilter struct {
	SponsorID     SponsorID
	BeneficiaryID BeneficiaryID
}

// =============================================================================
// INSTALLMENT (échéance)
// =============================================================================

// Installment is one month's obligation of a sponsorship.
// Settled == AmountPaid >= AmountDue after every write.
type Installment struct {
	ID            InstallmentID
	SponsorshipID SponsorshipID
	Month         Month
	AmountDue     decimal.Decimal
	AmountPaid    decimal.Decimal
	Settled       bool
}

// Remaining is what is still owed on the installment (may be negative on
// overpayment).
func (i Installment) Remaining() decimal.Decimal {
	return i.AmountDue.Sub(i.AmountPaid)
}

// InstallmentFilter selects installments. Zero fields do not filter.
type InstallmentFilter struct {
	SponsorshipID SponsorshipID
	Settled       *bool
	From          *Month // inclusive
	To            *Month // exclusive
	Unpaid        bool   // only rows with nothing paid
}

// InstallmentPatch lists the installment fields the engine writes.
type InstallmentPatch struct {
	AmountDue  *decimal.Decimal
	AmountPaid *decimal.Decimal
	Settled    *bool
}

// =============================================================================
// PAYMENT (paiement)
// =============================================================================

type PaymentType string

const (
	PaymentKafala      PaymentType = "KAFALA"
	PaymentSchoolGrant PaymentType = "DAAM_MADRASSI"
	PaymentOther       PaymentType = "AUTRE"
)

// Valid reports whether t is a known payment type.
func (t PaymentType) Valid() bool {
	switch t {
	case PaymentKafala, PaymentSchoolGrant, PaymentOther:
		return true
	}
	return false
}

// Payment records money received. Allocation is nil for legacy payments that
// predate allocation plans.
type Payment struct {
	ID            PaymentID
	Amount        decimal.Decimal
	Date          time.Time
	Type          PaymentType
	SponsorID     SponsorID
	BeneficiaryID BeneficiaryID
	GuardianID    GuardianID
	ReceiptID     ReceiptID
	Allocation    *AllocationPlan
	CreatedAt     time.Time
}

type PaymentFilter struct {
	SponsorID     SponsorID
	BeneficiaryID BeneficiaryID
	GuardianID    GuardianID
	Type          PaymentType
	From          *time.Time // inclusive
	To            *time.Time // inclusive
}

// =============================================================================
// RECEIPT (reçu) & TRANSFER (virement)
// =============================================================================

type Receipt struct {
	ID        ReceiptID
	Number    string
	SponsorID SponsorID
	ICE       string
	Total     decimal.Decimal
	Type      PaymentType
	Lines     map[string]any
	IssuedAt  time.Time
}

type Transfer struct {
	ID            TransferID
	GuardianID    GuardianID
	BeneficiaryID BeneficiaryID
	SponsorID     SponsorID
	PledgeValue   decimal.Decimal
	Months        int
	Date          time.Time
}

/*
store.go - Persistence interface consumed by the engine

PURPOSE:
  Defines the interface between the allocation engine and the database.
  The engine never talks to SQL directly: it receives a TxStore at
  construction and runs every operation inside WithTx.

KEY INTERFACES:
  SponsorStore:      Sponsors, read + cached-field writes
  RegistryStore:     Guardians, beneficiaries, receipts, transfers
  SponsorshipStore:  Sponsorships and the "active" queries
  InstallmentStore:  Installment batches and filtered updates
  PaymentStore:      Payments with their allocation plans
  Store:             All of the above
  TxStore:           Store + WithTx (atomic unit)

ACTIVE QUERIES:
  "Active" is decided by the store with the same rule as IsActive:
  end_date IS NULL OR end_date > now. The engine passes now explicitly so
  tests can pin the clock.

IDEMPOTENT INSERTS:
  CreateInstallments skips months that already exist for the sponsorship
  and reports how many rows were actually inserted. Generation can therefore
  be re-run at will.

ATOMIC UNITS:
  WithTx runs fn against a transactional Store. If fn returns an error
  every write made through that Store is rolled back.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (server)
  - kafala/store/memory.go: In-memory (tests, demos)

SEE ALSO:
  - engine.go: Runs every operation in WithTx
*/
package kafala

import (
	"context"
	"time"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

type SponsorStore interface {
	SaveSponsor(ctx context.Context, s Sponsor) error
	// FindSponsor returns a generic.NotFoundError when the sponsor is missing.
	FindSponsor(ctx context.Context, id SponsorID) (*Sponsor, error)
	UpdateSponsor(ctx context.Context, id SponsorID, patch SponsorPatch) error
	ListSponsors(ctx context.Context) ([]Sponsor, error)
}

type RegistryStore interface {
	SaveGuardian(ctx context.Context, g Guardian) error
	FindGuardian(ctx context.Context, id GuardianID) (*Guardian, error)
	ListGuardians(ctx context.Context) ([]Guardian, error)

	SaveBeneficiary(ctx context.Context, b Beneficiary) error
	FindBeneficiary(ctx context.Context, id BeneficiaryID) (*Beneficiary, error)
	ListBeneficiaries(ctx context.Context) ([]Beneficiary, error)

	SaveReceipt(ctx context.Context, r Receipt) error
	ListReceipts(ctx context.Context, sponsorID SponsorID) ([]Receipt, error)

	SaveTransfer(ctx context.Context, t Transfer) error
	ListTransfers(ctx context.Context, sponsorID SponsorID) ([]Transfer, error)
}

type SponsorshipStore interface {
	// SaveSponsorship inserts or replaces the sponsorship row (Installments ignored).
	SaveSponsorship(ctx context.Context, s Sponsorship) error
	FindSponsorship(ctx context.Context, id SponsorshipID) (*Sponsorship, error)
	ListSponsorships(ctx context.Context, filter SponsorshipFilter) ([]Sponsorship, error)
	DeleteSponsorship(ctx context.Context, id SponsorshipID) error

	// FindActiveSponsorships returns the sponsor's active sponsorships ordered
	// by start date, each with its unsettled installments ordered by month.
	FindActiveSponsorships(ctx context.Context, sponsorID SponsorID, now time.Time) ([]Sponsorship, error)
	// FindActiveSponsorshipForBeneficiary returns nil, nil when there is none.
	FindActiveSponsorshipForBeneficiary(ctx context.Context, beneficiaryID BeneficiaryID, now time.Time) (*Sponsorship, error)
	CountActiveSponsorships(ctx context.Context, sponsorID SponsorID, now time.Time) (int, error)
}

type InstallmentStore interface {
	// CreateInstallments inserts the batch, skipping (sponsorship, month)
	// pairs that already exist. Returns the number of rows inserted.
	CreateInstallments(ctx context.Context, batch []Installment) (int, error)
	FindInstallment(ctx context.Context, id InstallmentID) (*Installment, error)
	// FindInstallments returns matching installments ordered by month.
	FindInstallments(ctx context.Context, filter InstallmentFilter) ([]Installment, error)
	UpdateInstallment(ctx context.Context, id InstallmentID, patch InstallmentPatch) error
	UpdateInstallments(ctx context.Context, filter InstallmentFilter, patch InstallmentPatch) (int, error)
	DeleteInstallments(ctx context.Context, filter InstallmentFilter) (int, error)
	// LastInstallmentMonth is the furthest scheduled month, settled or not.
	LastInstallmentMonth(ctx context.Context, id SponsorshipID) (Month, bool, error)
}

type PaymentStore interface {
	SavePayment(ctx context.Context, p Payment) error
	FindPayment(ctx context.Context, id PaymentID) (*Payment, error)
	// ListPayments returns matching payments, most recent first.
	ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error)
	DeletePayment(ctx context.Context, id PaymentID) error
}

// Store is everything the engine reads and writes.
type Store interface {
	SponsorStore
	RegistryStore
	SponsorshipStore
	InstallmentStore
	PaymentStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

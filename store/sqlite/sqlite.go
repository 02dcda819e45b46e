/*
Package sqlite provides a SQLite-backed implementation of kafala.TxStore.

PURPOSE:
  Persists the kafala registry (sponsors, guardians, beneficiaries),
  sponsorships, installment schedules and payments with their allocation
  plans. The same SQL runs on the database handle and inside transactions:
  both go through the querier interface.

KEY TABLES:
  sponsors:       Pledge value and the cached active sponsorship count
  guardians:      Widows receiving transfers
  beneficiaries:  Orphans with their age cache
  sponsorships:   Sponsor <-> beneficiary links (end_date NULL = open ended)
  installments:   One row per sponsorship and month
  payments:       Money received, allocation_json holds the plan
  receipts:       Issued receipts
  transfers:      Bank transfers to guardians

CONSTRAINTS:
  - UNIQUE(sponsorship_id, month) on installments: CreateInstallments uses
    INSERT OR IGNORE, so regenerating a schedule never duplicates a month
  - Foreign keys from installments to sponsorships, and from sponsorships
    to sponsors and beneficiaries

STORAGE FORMATS:
  Money:   TEXT, decimal string (never REAL)
  Months:  TEXT "2006-01-02"
  Times:   TEXT, fixed width UTC so that string order is time order, which
           the active predicate (end_date > ?) relies on

CONCURRENCY:
  One open connection. WithTx holds a mutex for the whole unit so writers
  are serialized; the database transaction provides the rollback.

USAGE:
  store, err := sqlite.New("./data/kafala.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := kafala.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - kafala/store.go: Interface definitions
  - kafala/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/kafala-engine/generic"
	"github.com/warp/kafala-engine/kafala"
)

// timeLayout is fixed width so TEXT comparison orders like time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// querier is what *sql.DB and *sql.Tx have in common.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements kafala.Store over a querier.
type conn struct {
	q querier
}

// Store implements kafala.TxStore using SQLite.
type Store struct {
	*conn
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and shared.
	db.SetMaxOpenConns(1)

	store := &Store{conn: &conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sponsors (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		last_name TEXT NOT NULL,
		first_name TEXT,
		cin TEXT,
		ice TEXT,
		email TEXT,
		phone TEXT,
		address TEXT,
		pledge_value TEXT NOT NULL,
		active_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS guardians (
		id TEXT PRIMARY KEY,
		last_name TEXT NOT NULL,
		first_name TEXT,
		cin TEXT,
		rib TEXT,
		phone TEXT,
		address TEXT,
		closed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS beneficiaries (
		id TEXT PRIMARY KEY,
		last_name TEXT NOT NULL,
		first_name TEXT,
		birth_date TEXT NOT NULL,
		guardian_id TEXT NOT NULL REFERENCES guardians(id),
		closed INTEGER NOT NULL DEFAULT 0,
		age_cache INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sponsorships (
		id TEXT PRIMARY KEY,
		sponsor_id TEXT NOT NULL REFERENCES sponsors(id),
		beneficiary_id TEXT NOT NULL REFERENCES beneficiaries(id),
		start_date TEXT NOT NULL,
		end_date TEXT,
		pledge_value TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Active lookups: sponsor_id + end_date (hot path of every recompute)
	CREATE INDEX IF NOT EXISTS idx_sponsorships_sponsor
		ON sponsorships(sponsor_id, end_date);
	CREATE INDEX IF NOT EXISTS idx_sponsorships_beneficiary
		ON sponsorships(beneficiary_id, end_date);

	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		sponsorship_id TEXT NOT NULL REFERENCES sponsorships(id),
		month TEXT NOT NULL,
		amount_due TEXT NOT NULL,
		amount_paid TEXT NOT NULL DEFAULT '0',
		settled INTEGER NOT NULL DEFAULT 0,
		UNIQUE(sponsorship_id, month)
	);

	CREATE INDEX IF NOT EXISTS idx_installments_open
		ON installments(sponsorship_id, settled, month);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		amount TEXT NOT NULL,
		date TEXT NOT NULL,
		type TEXT NOT NULL,
		sponsor_id TEXT,
		beneficiary_id TEXT,
		guardian_id TEXT,
		receipt_id TEXT,
		allocation_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_sponsor
		ON payments(sponsor_id, date DESC);
	CREATE INDEX IF NOT EXISTS idx_payments_type_date
		ON payments(type, date);

	CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		sponsor_id TEXT,
		ice TEXT,
		total TEXT NOT NULL,
		type TEXT NOT NULL,
		lines_json TEXT,
		issued_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		guardian_id TEXT NOT NULL,
		beneficiary_id TEXT NOT NULL,
		sponsor_id TEXT NOT NULL,
		pledge_value TEXT NOT NULL,
		months INTEGER NOT NULL,
		date TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION SUPPORT
// =============================================================================

// WithTx executes fn within a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store kafala.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"payments", "installments", "sponsorships", "transfers", "receipts", "beneficiaries", "guardians", "sponsors"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SPONSOR STORE
// =============================================================================

const sponsorColumns = "id, type, last_name, first_name, cin, ice, email, phone, address, pledge_value, active_count, created_at"

func (c *conn) SaveSponsor(ctx context.Context, sp kafala.Sponsor) error {
	query := `
		INSERT INTO sponsors (` + sponsorColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			last_name = excluded.last_name,
			first_name = excluded.first_name,
			cin = excluded.cin,
			ice = excluded.ice,
			email = excluded.email,
			phone = excluded.phone,
			address = excluded.address,
			pledge_value = excluded.pledge_value,
			active_count = excluded.active_count
	`
	_, err := c.q.ExecContext(ctx, query,
		sp.ID, sp.Type, sp.LastName, sp.FirstName, sp.CIN, sp.ICE, sp.Email, sp.Phone, sp.Address,
		sp.PledgeValue.String(), sp.ActiveSponsorshipCount, formatTime(sp.CreatedAt),
	)
	return err
}

func (c *conn) FindSponsor(ctx context.Context, id kafala.SponsorID) (*kafala.Sponsor, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+sponsorColumns+" FROM sponsors WHERE id = ?", id)
	sp, err := scanSponsor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NewNotFound("sponsor", string(id))
	}
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

func (c *conn) UpdateSponsor(ctx context.Context, id kafala.SponsorID, patch kafala.SponsorPatch) error {
	var sets []string
	var args []any
	if patch.PledgeValue != nil {
		sets = append(sets, "pledge_value = ?")
		args = append(args, patch.PledgeValue.String())
	}
	if patch.ActiveSponsorshipCount != nil {
		sets = append(sets, "active_count = ?")
		args = append(args, *patch.ActiveSponsorshipCount)
	}
	if len(sets) == 0 {
		_, err := c.FindSponsor(ctx, id)
		return err
	}

	args = append(args, id)
	res, err := c.q.ExecContext(ctx, "UPDATE sponsors SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	return requireRow(res, "sponsor", string(id))
}

func (c *conn) ListSponsors(ctx context.Context) ([]kafala.Sponsor, error) {
	rows, err := c.q.QueryContext(ctx, "SELECT "+sponsorColumns+" FROM sponsors ORDER BY last_name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sponsors []kafala.Sponsor
	for rows.Next() {
		sp, err := scanSponsor(rows)
		if err != nil {
			return nil, err
		}
		sponsors = append(sponsors, sp)
	}
	return sponsors, rows.Err()
}

func scanSponsor(r scanner) (kafala.Sponsor, error) {
	var sp kafala.Sponsor
	var firstName, cin, ice, email, phone, address sql.NullString
	var pledge, createdAt string
	err := r.Scan(&sp.ID, &sp.Type, &sp.LastName, &firstName, &cin, &ice, &email, &phone, &address,
		&pledge, &sp.ActiveSponsorshipCount, &createdAt)
	if err != nil {
		return sp, err
	}
	sp.FirstName, sp.CIN, sp.ICE = firstName.String, cin.String, ice.String
	sp.Email, sp.Phone, sp.Address = email.String, phone.String, address.String
	sp.PledgeValue = generic.MustParseMoney(pledge)
	sp.CreatedAt = parseTime(createdAt)
	return sp, nil
}

// =============================================================================
// REGISTRY STORE
// =============================================================================

const guardianColumns = "id, last_name, first_name, cin, rib, phone, address, closed, created_at"

func (c *conn) SaveGuardian(ctx context.Context, g kafala.Guardian) error {
	query := `
		INSERT INTO guardians (` + guardianColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_name = excluded.last_name,
			first_name = excluded.first_name,
			cin = excluded.cin,
			rib = excluded.rib,
			phone = excluded.phone,
			address = excluded.address,
			closed = excluded.closed
	`
	_, err := c.q.ExecContext(ctx, query,
		g.ID, g.LastName, g.FirstName, g.CIN, g.RIB, g.Phone, g.Address, g.Closed, formatTime(g.CreatedAt),
	)
	return err
}

func (c *conn) FindGuardian(ctx context.Context, id kafala.GuardianID) (*kafala.Guardian, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+guardianColumns+" FROM guardians WHERE id = ?", id)
	g, err := scanGuardian(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NewNotFound("guardian", string(id))
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *conn) ListGuardians(ctx context.Context) ([]kafala.Guardian, error) {
	rows, err := c.q.QueryContext(ctx, "SELECT "+guardianColumns+" FROM guardians ORDER BY last_name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var guardians []kafala.Guardian
	for rows.Next() {
		g, err := scanGuardian(rows)
		if err != nil {
			return nil, err
		}
		guardians = append(guardians, g)
	}
	return guardians, rows.Err()
}

func scanGuardian(r scanner) (kafala.Guardian, error) {
	var g kafala.Guardian
	var firstName, cin, rib, phone, address sql.NullString
	var createdAt string
	if err := r.Scan(&g.ID, &g.LastName, &firstName, &cin, &rib, &phone, &address, &g.Closed, &createdAt); err != nil {
		return g, err
	}
	g.FirstName, g.CIN, g.RIB = firstName.String, cin.String, rib.String
	g.Phone, g.Address = phone.String, address.String
	g.CreatedAt = parseTime(createdAt)
	return g, nil
}

const beneficiaryColumns = "id, last_name, first_name, birth_date, guardian_id, closed, age_cache, created_at"

func (c *conn) SaveBeneficiary(ctx context.Context, b kafala.Beneficiary) error {
	query := `
		INSERT INTO beneficiaries (` + beneficiaryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_name = excluded.last_name,
			first_name = excluded.first_name,
			birth_date = excluded.birth_date,
			guardian_id = excluded.guardian_id,
			closed = excluded.closed,
			age_cache = excluded.age_cache
	`
	_, err := c.q.ExecContext(ctx, query,
		b.ID, b.LastName, b.FirstName, formatTime(b.BirthDate), b.GuardianID, b.Closed, b.AgeCache, formatTime(b.CreatedAt),
	)
	return err
}

func (c *conn) FindBeneficiary(ctx context.Context, id kafala.BeneficiaryID) (*kafala.Beneficiary, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+beneficiaryColumns+" FROM beneficiaries WHERE id = ?", id)
	b, err := scanBeneficiary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NewNotFound("beneficiary", string(id))
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *conn) ListBeneficiaries(ctx context.Context) ([]kafala.Beneficiary, error) {
	rows, err := c.q.QueryContext(ctx, "SELECT "+beneficiaryColumns+" FROM beneficiaries ORDER BY last_name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []kafala.Beneficiary
	for rows.Next() {
		b, err := scanBeneficiary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBeneficiary(r scanner) (kafala.Beneficiary, error) {
	var b kafala.Beneficiary
	var firstName sql.NullString
	var birthDate, createdAt string
	if err := r.Scan(&b.ID, &b.LastName, &firstName, &birthDate, &b.GuardianID, &b.Closed, &b.AgeCache, &createdAt); err != nil {
		return b, err
	}
	b.FirstName = firstName.String
	b.BirthDate = parseTime(birthDate)
	b.CreatedAt = parseTime(createdAt)
	return b, nil
}

func (c *conn) SaveReceipt(ctx context.Context, r kafala.Receipt) error {
	var linesJSON sql.NullString
	if r.Lines != nil {
		b, err := json.Marshal(r.Lines)
		if err != nil {
			return fmt.Errorf("encode receipt lines: %w", err)
		}
		linesJSON = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO receipts (id, number, sponsor_id, ice, total, type, lines_json, issued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			sponsor_id = excluded.sponsor_id,
			ice = excluded.ice,
			total = excluded.total,
			type = excluded.type,
			lines_json = excluded.lines_json,
			issued_at = excluded.issued_at
	`
	_, err := c.q.ExecContext(ctx, query,
		r.ID, r.Number, nullString(string(r.SponsorID)), r.ICE, r.Total.String(), r.Type, linesJSON, formatTime(r.IssuedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: receipt number %s already exists", generic.ErrConflict, r.Number)
	}
	return err
}

func (c *conn) ListReceipts(ctx context.Context, sponsorID kafala.SponsorID) ([]kafala.Receipt, error) {
	query := "SELECT id, number, sponsor_id, ice, total, type, lines_json, issued_at FROM receipts"
	var args []any
	if sponsorID != "" {
		query += " WHERE sponsor_id = ?"
		args = append(args, sponsorID)
	}
	query += " ORDER BY issued_at DESC, id"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []kafala.Receipt
	for rows.Next() {
		var r kafala.Receipt
		var sponsor, ice, linesJSON sql.NullString
		var total, issuedAt string
		if err := rows.Scan(&r.ID, &r.Number, &sponsor, &ice, &total, &r.Type, &linesJSON, &issuedAt); err != nil {
			return nil, err
		}
		r.SponsorID = kafala.SponsorID(sponsor.String)
		r.ICE = ice.String
		r.Total = generic.MustParseMoney(total)
		r.IssuedAt = parseTime(issuedAt)
		if linesJSON.Valid {
			if err := json.Unmarshal([]byte(linesJSON.String), &r.Lines); err != nil {
				return nil, fmt.Errorf("decode receipt %s lines: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *conn) SaveTransfer(ctx context.Context, t kafala.Transfer) error {
	query := `
		INSERT INTO transfers (id, guardian_id, beneficiary_id, sponsor_id, pledge_value, months, date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			guardian_id = excluded.guardian_id,
			beneficiary_id = excluded.beneficiary_id,
			sponsor_id = excluded.sponsor_id,
			pledge_value = excluded.pledge_value,
			months = excluded.months,
			date = excluded.date
	`
	_, err := c.q.ExecContext(ctx, query,
		t.ID, t.GuardianID, t.BeneficiaryID, t.SponsorID, t.PledgeValue.String(), t.Months, formatTime(t.Date),
	)
	return err
}

func (c *conn) ListTransfers(ctx context.Context, sponsorID kafala.SponsorID) ([]kafala.Transfer, error) {
	query := "SELECT id, guardian_id, beneficiary_id, sponsor_id, pledge_value, months, date FROM transfers"
	var args []any
	if sponsorID != "" {
		query += " WHERE sponsor_id = ?"
		args = append(args, sponsorID)
	}
	query += " ORDER BY date DESC, id"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []kafala.Transfer
	for rows.Next() {
		var t kafala.Transfer
		var pledge, date string
		if err := rows.Scan(&t.ID, &t.GuardianID, &t.BeneficiaryID, &t.SponsorID, &pledge, &t.Months, &date); err != nil {
			return nil, err
		}
		t.PledgeValue = generic.MustParseMoney(pledge)
		t.Date = parseTime(date)
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// SPONSORSHIP STORE
// =============================================================================

const sponsorshipColumns = "id, sponsor_id, beneficiary_id, start_date, end_date, pledge_value, created_at"

// activePredicate is kafala.IsActive in SQL.
const activePredicate = "(end_date IS NULL OR end_date > ?)"

func (c *conn) SaveSponsorship(ctx context.Context, sp kafala.Sponsorship) error {
	query := `
		INSERT INTO sponsorships (` + sponsorshipColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sponsor_id = excluded.sponsor_id,
			beneficiary_id = excluded.beneficiary_id,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			pledge_value = excluded.pledge_value
	`
	_, err := c.q.ExecContext(ctx, query,
		sp.ID, sp.SponsorID, sp.BeneficiaryID, formatTime(sp.StartDate), nullTime(sp.EndDate),
		sp.PledgeValue.String(), formatTime(sp.CreatedAt),
	)
	return err
}

func (c *conn) FindSponsorship(ctx context.Context, id kafala.SponsorshipID) (*kafala.Sponsorship, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+sponsorshipColumns+" FROM sponsorships WHERE id = ?", id)
	sp, err := scanSponsorship(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NewNotFound("sponsorship", string(id))
	}
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

func (c *conn) ListSponsorships(ctx context.Context, filter kafala.SponsorshipFilter) ([]kafala.Sponsorship, error) {
	var where []string
	var args []any
	if filter.SponsorID != "" {
		where = append(where, "sponsor_id = ?")
		args = append(args, filter.SponsorID)
	}
	if filter.BeneficiaryID != "" {
		where = append(where, "beneficiary_id = ?")
		args = append(args, filter.BeneficiaryID)
	}
	return c.querySponsorships(ctx, where, args)
}

func (c *conn) DeleteSponsorship(ctx context.Context, id kafala.SponsorshipID) error {
	res, err := c.q.ExecContext(ctx, "DELETE FROM sponsorships WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireRow(res, "sponsorship", string(id))
}

func (c *conn) FindActiveSponsorships(ctx context.Context, sponsorID kafala.SponsorID, now time.Time) ([]kafala.Sponsorship, error) {
	active, err := c.querySponsorships(ctx,
		[]string{"sponsor_id = ?", activePredicate},
		[]any{sponsorID, formatTime(now)},
	)
	if err != nil {
		return nil, err
	}

	unsettled := false
	for i := range active {
		active[i].Installments, err = c.FindInstallments(ctx, kafala.InstallmentFilter{
			SponsorshipID: active[i].ID,
			Settled:       &unsettled,
		})
		if err != nil {
			return nil, err
		}
	}
	return active, nil
}

func (c *conn) FindActiveSponsorshipForBeneficiary(ctx context.Context, beneficiaryID kafala.BeneficiaryID, now time.Time) (*kafala.Sponsorship, error) {
	active, err := c.querySponsorships(ctx,
		[]string{"beneficiary_id = ?", activePredicate},
		[]any{beneficiaryID, formatTime(now)},
	)
	if err != nil || len(active) == 0 {
		return nil, err
	}
	return &active[0], nil
}

func (c *conn) CountActiveSponsorships(ctx context.Context, sponsorID kafala.SponsorID, now time.Time) (int, error) {
	var n int
	err := c.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sponsorships WHERE sponsor_id = ? AND "+activePredicate,
		sponsorID, formatTime(now),
	).Scan(&n)
	return n, err
}

// querySponsorships reads every matching row before returning, so callers
// can issue further queries on the same connection.
func (c *conn) querySponsorships(ctx context.Context, where []string, args []any) ([]kafala.Sponsorship, error) {
	query := "SELECT " + sponsorshipColumns + " FROM sponsorships"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_date, id"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []kafala.Sponsorship
	for rows.Next() {
		sp, err := scanSponsorship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func scanSponsorship(r scanner) (kafala.Sponsorship, error) {
	var sp kafala.Sponsorship
	var startDate, pledge, createdAt string
	var endDate sql.NullString
	if err := r.Scan(&sp.ID, &sp.SponsorID, &sp.BeneficiaryID, &startDate, &endDate, &pledge, &createdAt); err != nil {
		return sp, err
	}
	sp.StartDate = parseTime(startDate)
	if endDate.Valid {
		end := parseTime(endDate.String)
		sp.EndDate = &end
	}
	sp.PledgeValue = generic.MustParseMoney(pledge)
	sp.CreatedAt = parseTime(createdAt)
	return sp, nil
}

// =============================================================================
// INSTALLMENT STORE
// =============================================================================

const installmentColumns = "id, sponsorship_id, month, amount_due, amount_paid, settled"

// CreateInstallments inserts the batch, ignoring (sponsorship, month) pairs
// that already exist.
func (c *conn) CreateInstallments(ctx context.Context, batch []kafala.Installment) (int, error) {
	created := 0
	for _, inst := range batch {
		res, err := c.q.ExecContext(ctx,
			"INSERT OR IGNORE INTO installments ("+installmentColumns+") VALUES (?, ?, ?, ?, ?, ?)",
			inst.ID, inst.SponsorshipID, inst.Month.String(), inst.AmountDue.String(), inst.AmountPaid.String(), inst.Settled,
		)
		if err != nil {
			return created, fmt.Errorf("insert installment %s: %w", inst.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return created, err
		}
		created += int(n)
	}
	return created, nil
}

func (c *conn) FindInstallment(ctx context.Context, id kafala.InstallmentID) (*kafala.Installment, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+installmentColumns+" FROM installments WHERE id = ?", id)
	inst, err := scanInstallment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NewNotFound("installment", string(id))
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (c *conn) FindInstallments(ctx context.Context, filter kafala.InstallmentFilter) ([]kafala.Installment, error) {
	where, args := installmentWhere(filter)
	rows, err := c.q.QueryContext(ctx,
		"SELECT "+installmentColumns+" FROM installments"+where+" ORDER BY month, sponsorship_id",
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []kafala.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (c *conn) UpdateInstallment(ctx context.Context, id kafala.InstallmentID, patch kafala.InstallmentPatch) error {
	sets, args := installmentSet(patch)
	if len(sets) == 0 {
		_, err := c.FindInstallment(ctx, id)
		return err
	}
	args = append(args, id)
	res, err := c.q.ExecContext(ctx, "UPDATE installments SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	return requireRow(res, "installment", string(id))
}

func (c *conn) UpdateInstallments(ctx context.Context, filter kafala.InstallmentFilter, patch kafala.InstallmentPatch) (int, error) {
	sets, args := installmentSet(patch)
	if len(sets) == 0 {
		return 0, nil
	}
	where, whereArgs := installmentWhere(filter)
	res, err := c.q.ExecContext(ctx, "UPDATE installments SET "+strings.Join(sets, ", ")+where, append(args, whereArgs...)...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (c *conn) DeleteInstallments(ctx context.Context, filter kafala.InstallmentFilter) (int, error) {
	where, args := installmentWhere(filter)
	res, err := c.q.ExecContext(ctx, "DELETE FROM installments"+where, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (c *conn) LastInstallmentMonth(ctx context.Context, id kafala.SponsorshipID) (kafala.Month, bool, error) {
	var last sql.NullString
	if err := c.q.QueryRowContext(ctx,
		"SELECT MAX(month) FROM installments WHERE sponsorship_id = ?", id,
	).Scan(&last); err != nil {
		return kafala.Month{}, false, err
	}
	if !last.Valid {
		return kafala.Month{}, false, nil
	}
	m, err := generic.ParseMonth(last.String)
	if err != nil {
		return kafala.Month{}, false, fmt.Errorf("parse month %q: %w", last.String, err)
	}
	return m, true, nil
}

func installmentWhere(f kafala.InstallmentFilter) (string, []any) {
	var where []string
	var args []any
	if f.SponsorshipID != "" {
		where = append(where, "sponsorship_id = ?")
		args = append(args, f.SponsorshipID)
	}
	if f.Settled != nil {
		where = append(where, "settled = ?")
		args = append(args, *f.Settled)
	}
	if f.From != nil {
		where = append(where, "month >= ?")
		args = append(args, f.From.String())
	}
	if f.To != nil {
		where = append(where, "month < ?")
		args = append(args, f.To.String())
	}
	if f.Unpaid {
		where = append(where, "CAST(amount_paid AS REAL) = 0")
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func installmentSet(p kafala.InstallmentPatch) ([]string, []any) {
	var sets []string
	var args []any
	if p.AmountDue != nil {
		sets = append(sets, "amount_due = ?")
		args = append(args, p.AmountDue.String())
	}
	if p.AmountPaid != nil {
		sets = append(sets, "amount_paid = ?")
		args = append(args, p.AmountPaid.String())
	}
	if p.Settled != nil {
		sets = append(sets, "settled = ?")
		args = append(args, *p.Settled)
	}
	return sets, args
}

func scanInstallment(r scanner) (kafala.Installment, error) {
	var inst kafala.Installment
	var month, due, paid string
	if err := r.Scan(&inst.ID, &inst.SponsorshipID, &month, &due, &paid, &inst.Settled); err != nil {
		return inst, err
	}
	m, err := generic.ParseMonth(month)
	if err != nil {
		return inst, fmt.Errorf("parse month %q: %w", month, err)
	}
	inst.Month = m
	inst.AmountDue = generic.MustParseMoney(due)
	inst.AmountPaid = generic.MustParseMoney(paid)
	return inst, nil
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

const paymentColumns = "id, amount, date, type, sponsor_id, beneficiary_id, guardian_id, receipt_id, allocation_json, created_at"

func (c *conn) SavePayment(ctx context.Context, p kafala.Payment) error {
	plan, err := kafala.MarshalPlan(p.Allocation)
	if err != nil {
		return fmt.Errorf("encode allocation: %w", err)
	}
	var planJSON sql.NullString
	if plan != nil {
		planJSON = sql.NullString{String: string(plan), Valid: true}
	}

	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			date = excluded.date,
			type = excluded.type,
			sponsor_id = excluded.sponsor_id,
			beneficiary_id = excluded.beneficiary_id,
			guardian_id = excluded.guardian_id,
			receipt_id = excluded.receipt_id,
			allocation_json = excluded.allocation_json
	`
	_, err = c.q.ExecContext(ctx, query,
		p.ID, p.Amount.String(), formatTime(p.Date), p.Type,
		nullString(string(p.SponsorID)), nullString(string(p.BeneficiaryID)),
		nullString(string(p.GuardianID)), nullString(string(p.ReceiptID)),
		planJSON, formatTime(p.CreatedAt),
	)
	return err
}

func (c *conn) FindPayment(ctx context.Context, id kafala.PaymentID) (*kafala.Payment, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = ?", id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NewNotFound("payment", string(id))
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *conn) ListPayments(ctx context.Context, f kafala.PaymentFilter) ([]kafala.Payment, error) {
	var where []string
	var args []any
	add := func(clause string, arg any) {
		where = append(where, clause)
		args = append(args, arg)
	}
	if f.SponsorID != "" {
		add("sponsor_id = ?", f.SponsorID)
	}
	if f.BeneficiaryID != "" {
		add("beneficiary_id = ?", f.BeneficiaryID)
	}
	if f.GuardianID != "" {
		add("guardian_id = ?", f.GuardianID)
	}
	if f.Type != "" {
		add("type = ?", f.Type)
	}
	if f.From != nil {
		add("date >= ?", formatTime(*f.From))
	}
	if f.To != nil {
		add("date <= ?", formatTime(*f.To))
	}

	query := "SELECT " + paymentColumns + " FROM payments"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date DESC, id"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []kafala.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *conn) DeletePayment(ctx context.Context, id kafala.PaymentID) error {
	res, err := c.q.ExecContext(ctx, "DELETE FROM payments WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireRow(res, "payment", string(id))
}

func scanPayment(r scanner) (kafala.Payment, error) {
	var p kafala.Payment
	var amount, date, createdAt string
	var sponsor, beneficiary, guardian, receipt, planJSON sql.NullString
	if err := r.Scan(&p.ID, &amount, &date, &p.Type, &sponsor, &beneficiary, &guardian, &receipt, &planJSON, &createdAt); err != nil {
		return p, err
	}
	p.Amount = generic.MustParseMoney(amount)
	p.Date = parseTime(date)
	p.SponsorID = kafala.SponsorID(sponsor.String)
	p.BeneficiaryID = kafala.BeneficiaryID(beneficiary.String)
	p.GuardianID = kafala.GuardianID(guardian.String)
	p.ReceiptID = kafala.ReceiptID(receipt.String)
	p.CreatedAt = parseTime(createdAt)

	plan, err := kafala.UnmarshalPlan([]byte(planJSON.String))
	if err != nil {
		return p, fmt.Errorf("payment %s: %w", p.ID, err)
	}
	p.Allocation = plan
	return p, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, generic.MonthLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.NewNotFound(kind, id)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ kafala.TxStore = (*Store)(nil)

/*
handlers.go - HTTP request handlers for the Kafala API

PURPOSE:
  Implements HTTP handlers for all API endpoints. Each handler:
  1. Reads the request (URL params, JSON body)
  2. Converts the body with the request factory
  3. Calls the engine (writes) or the store/reporter (reads)
  4. Formats and returns the response

ENDPOINTS:
  Sponsors:
    GET    /api/sponsors                    List sponsors
    POST   /api/sponsors                    Create sponsor
    GET    /api/sponsors/{id}               Sponsor with its sponsorships
    PUT    /api/sponsors/{id}/pledge        Change the monthly pledge

  Guardians & beneficiaries:
    GET    /api/guardians                   List guardians
    POST   /api/guardians                   Create guardian
    GET    /api/guardians/{id}              Get guardian
    GET    /api/beneficiaries               List beneficiaries
    POST   /api/beneficiaries               Create beneficiary
    GET    /api/beneficiaries/{id}          Get beneficiary
    PUT    /api/beneficiaries/{id}/birth-date  Change birth date

  Sponsorships:
    GET    /api/sponsorships                List with stats (?sponsorId=&beneficiaryId=)
    POST   /api/sponsorships                Create (closePrevious in body)
    GET    /api/sponsorships/{id}           Get with installments and stats
    PUT    /api/sponsorships/{id}           Reschedule dates / pledge snapshot
    POST   /api/sponsorships/{id}/close     End now
    DELETE /api/sponsorships/{id}           Delete (only when nothing was paid)

  Payments:
    GET    /api/payments                    List (?sponsorId=&beneficiaryId=&guardianId=&type=&from=&to=)
    POST   /api/payments                    Record with allocation
    POST   /api/payments/preview            Allocation preview, nothing written
    GET    /api/payments/{id}               Get payment
    DELETE /api/payments/{id}               Reverse allocation and delete

  Receipts, transfers, reporting:
    GET    /api/receipts                    List (?sponsorId=)
    POST   /api/receipts                    Record receipt
    GET    /api/transfers                   List (?sponsorId=)
    POST   /api/transfers                   Record transfer
    GET    /api/dashboard                   Dashboard figures

  Admin & scenarios:
    POST   /api/admin/extend-schedules      Run horizon extension now
    POST   /api/admin/refresh-ages          Refresh age caches now
    GET    /api/admin/jobs                  Recent job runs
    GET    /api/scenarios                   List demo scenarios
    GET    /api/scenarios/current           Currently loaded scenario
    POST   /api/scenarios/load              Load a demo scenario
    POST   /api/scenarios/reset             Clear the database

ARCHITECTURE:
  Handler holds the engine, the reporter, the SQLite store and the request
  factory. Writes always go through the engine so that recomputation and
  allocation run in the same transaction as the write.

ERROR HANDLING:
  statusFor maps error classes to status codes in one place:
    factory.ErrBadRequest   400  malformed JSON, missing fields
    generic.ErrNotFound     404
    generic.ErrConflict     409  active sponsorship exists, duplicate receipt
    generic.ErrValidation   422  business rules
    anything else           500  logged

SEE ALSO:
  - server.go: Route definitions
  - dto.go: Response types
  - scenarios.go: Demo scenario loaders
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/kafala-engine/factory"
	"github.com/warp/kafala-engine/generic"
	"github.com/warp/kafala-engine/kafala"
	"github.com/warp/kafala-engine/store/sqlite"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *kafala.Engine
	Reporter *kafala.Reporter
	Store    *sqlite.Store
	Factory  *factory.RequestFactory
	Log      *slog.Logger

	// Scheduler records manual job runs when set.
	Scheduler *Scheduler

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler writing through engine and reading store.
func NewHandler(engine *kafala.Engine, store *sqlite.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Engine:   engine,
		Reporter: kafala.NewReporter(store),
		Store:    store,
		Factory:  factory.NewRequestFactory(),
		Log:      logger,
	}
}

// =============================================================================
// SPONSOR HANDLERS
// =============================================================================

// ListSponsors returns all sponsors.
// GET /api/sponsors
func (h *Handler) ListSponsors(w http.ResponseWriter, r *http.Request) {
	sponsors, err := h.Store.ListSponsors(r.Context())
	if err != nil {
		h.fail(w, "Failed to list sponsors", err)
		return
	}
	dtos := make([]SponsorDTO, len(sponsors))
	for i, s := range sponsors {
		dtos[i] = toSponsorDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSponsor creates a sponsor.
// POST /api/sponsors
func (h *Handler) CreateSponsor(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	in, err := h.Factory.ParseSponsor(body)
	if err != nil {
		h.fail(w, "Invalid sponsor", err)
		return
	}
	s, err := h.Engine.SaveSponsor(r.Context(), in)
	if err != nil {
		h.fail(w, "Failed to create sponsor", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSponsorDTO(*s))
}

// GetSponsor returns a sponsor with its sponsorships and their stats.
// GET /api/sponsors/{id}
func (h *Handler) GetSponsor(w http.ResponseWriter, r *http.Request) {
	id := kafala.SponsorID(chi.URLParam(r, "id"))
	s, err := h.Store.FindSponsor(r.Context(), id)
	if err != nil {
		h.fail(w, "Sponsor not found", err)
		return
	}
	now := h.Engine.Now()
	summaries, err := h.Reporter.SponsorshipStats(r.Context(), kafala.SponsorshipFilter{SponsorID: id}, now)
	if err != nil {
		h.fail(w, "Failed to load sponsorships", err)
		return
	}
	sponsorships := make([]SponsorshipDTO, len(summaries))
	for i, sum := range summaries {
		sum.Sponsorship.Installments = nil
		sponsorships[i] = toSummaryDTO(sum, now)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sponsor":      toSponsorDTO(*s),
		"sponsorships": sponsorships,
	})
}

// UpdateSponsorPledge changes the pledge and rewrites open installments.
// PUT /api/sponsors/{id}/pledge
func (h *Handler) UpdateSponsorPledge(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	pledge, err := h.Factory.ParsePledge(body)
	if err != nil {
		h.fail(w, "Invalid pledge", err)
		return
	}
	s, err := h.Engine.UpdateSponsorPledge(r.Context(), kafala.SponsorID(chi.URLParam(r, "id")), pledge)
	if err != nil {
		h.fail(w, "Failed to update pledge", err)
		return
	}
	writeJSON(w, http.StatusOK, toSponsorDTO(*s))
}

// =============================================================================
// GUARDIAN & BENEFICIARY HANDLERS
// =============================================================================

// ListGuardians returns all guardians.
// GET /api/guardians
func (h *Handler) ListGuardians(w http.ResponseWriter, r *http.Request) {
	guardians, err := h.Store.ListGuardians(r.Context())
	if err != nil {
		h.fail(w, "Failed to list guardians", err)
		return
	}
	dtos := make([]GuardianDTO, len(guardians))
	for i, g := range guardians {
		dtos[i] = toGuardianDTO(g)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateGuardian creates a guardian.
// POST /api/guardians
func (h *Handler) CreateGuardian(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	in, err := h.Factory.ParseGuardian(body)
	if err != nil {
		h.fail(w, "Invalid guardian", err)
		return
	}
	g, err := h.Engine.SaveGuardian(r.Context(), in)
	if err != nil {
		h.fail(w, "Failed to create guardian", err)
		return
	}
	writeJSON(w, http.StatusCreated, toGuardianDTO(*g))
}

// GetGuardian returns a guardian.
// GET /api/guardians/{id}
func (h *Handler) GetGuardian(w http.ResponseWriter, r *http.Request) {
	g, err := h.Store.FindGuardian(r.Context(), kafala.GuardianID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, "Guardian not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toGuardianDTO(*g))
}

// ListBeneficiaries returns all beneficiaries.
// GET /api/beneficiaries
func (h *Handler) ListBeneficiaries(w http.ResponseWriter, r *http.Request) {
	beneficiaries, err := h.Store.ListBeneficiaries(r.Context())
	if err != nil {
		h.fail(w, "Failed to list beneficiaries", err)
		return
	}
	dtos := make([]BeneficiaryDTO, len(beneficiaries))
	for i, b := range beneficiaries {
		dtos[i] = toBeneficiaryDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBeneficiary creates a beneficiary.
// POST /api/beneficiaries
func (h *Handler) CreateBeneficiary(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	in, err := h.Factory.ParseBeneficiary(body)
	if err != nil {
		h.fail(w, "Invalid beneficiary", err)
		return
	}
	b, err := h.Engine.SaveBeneficiary(r.Context(), in)
	if err != nil {
		h.fail(w, "Failed to create beneficiary", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBeneficiaryDTO(*b))
}

// GetBeneficiary returns a beneficiary with its active sponsorship, if any.
// GET /api/beneficiaries/{id}
func (h *Handler) GetBeneficiary(w http.ResponseWriter, r *http.Request) {
	id := kafala.BeneficiaryID(chi.URLParam(r, "id"))
	b, err := h.Store.FindBeneficiary(r.Context(), id)
	if err != nil {
		h.fail(w, "Beneficiary not found", err)
		return
	}
	now := h.Engine.Now()
	active, err := h.Store.FindActiveSponsorshipForBeneficiary(r.Context(), id, now)
	if err != nil {
		h.fail(w, "Failed to load sponsorship", err)
		return
	}
	var sponsorship *SponsorshipDTO
	if active != nil {
		dto := toSponsorshipDTO(*active, now)
		sponsorship = &dto
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"beneficiary":       toBeneficiaryDTO(*b),
		"activeSponsorship": sponsorship,
	})
}

// UpdateBirthDate changes a birth date and its age cache.
// PUT /api/beneficiaries/{id}/birth-date
func (h *Handler) UpdateBirthDate(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	birthDate, err := h.Factory.ParseBirthDate(body)
	if err != nil {
		h.fail(w, "Invalid birth date", err)
		return
	}
	b, err := h.Engine.UpdateBirthDate(r.Context(), kafala.BeneficiaryID(chi.URLParam(r, "id")), birthDate)
	if err != nil {
		h.fail(w, "Failed to update birth date", err)
		return
	}
	writeJSON(w, http.StatusOK, toBeneficiaryDTO(*b))
}

// =============================================================================
// SPONSORSHIP HANDLERS
// =============================================================================

// ListSponsorships returns sponsorships with their schedule totals.
// GET /api/sponsorships?sponsorId=&beneficiaryId=
func (h *Handler) ListSponsorships(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := kafala.SponsorshipFilter{
		SponsorID:     kafala.SponsorID(q.Get("sponsorId")),
		BeneficiaryID: kafala.BeneficiaryID(q.Get("beneficiaryId")),
	}
	now := h.Engine.Now()
	summaries, err := h.Reporter.SponsorshipStats(r.Context(), filter, now)
	if err != nil {
		h.fail(w, "Failed to list sponsorships", err)
		return
	}
	dtos := make([]SponsorshipDTO, len(summaries))
	for i, sum := range summaries {
		sum.Sponsorship.Installments = nil
		dtos[i] = toSummaryDTO(sum, now)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSponsorship links a sponsor to a beneficiary and schedules it.
// POST /api/sponsorships
func (h *Handler) CreateSponsorship(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	in, closePrevious, err := h.Factory.ParseSponsorship(body)
	if err != nil {
		h.fail(w, "Invalid sponsorship", err)
		return
	}
	sp, err := h.Engine.CreateSponsorship(r.Context(), in, closePrevious)
	if err != nil {
		h.fail(w, "Failed to create sponsorship", err)
		return
	}
	h.writeSponsorship(w, r, http.StatusCreated, sp.ID)
}

// GetSponsorship returns a sponsorship with its installments and stats.
// GET /api/sponsorships/{id}
func (h *Handler) GetSponsorship(w http.ResponseWriter, r *http.Request) {
	h.writeSponsorship(w, r, http.StatusOK, kafala.SponsorshipID(chi.URLParam(r, "id")))
}

// UpdateSponsorship reschedules a sponsorship.
// PUT /api/sponsorships/{id}
func (h *Handler) UpdateSponsorship(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	change, err := h.Factory.ParseSponsorshipChange(body)
	if err != nil {
		h.fail(w, "Invalid sponsorship change", err)
		return
	}
	sp, err := h.Engine.RescheduleSponsorship(r.Context(), kafala.SponsorshipID(chi.URLParam(r, "id")), change)
	if err != nil {
		h.fail(w, "Failed to update sponsorship", err)
		return
	}
	h.writeSponsorship(w, r, http.StatusOK, sp.ID)
}

// CloseSponsorship ends a sponsorship now.
// POST /api/sponsorships/{id}/close
func (h *Handler) CloseSponsorship(w http.ResponseWriter, r *http.Request) {
	sp, err := h.Engine.CloseSponsorship(r.Context(), kafala.SponsorshipID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, "Failed to close sponsorship", err)
		return
	}
	h.writeSponsorship(w, r, http.StatusOK, sp.ID)
}

// DeleteSponsorship deletes a sponsorship that never received money.
// DELETE /api/sponsorships/{id}
func (h *Handler) DeleteSponsorship(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteSponsorship(r.Context(), kafala.SponsorshipID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, "Failed to delete sponsorship", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeSponsorship(w http.ResponseWriter, r *http.Request, status int, id kafala.SponsorshipID) {
	sp, err := h.Store.FindSponsorship(r.Context(), id)
	if err != nil {
		h.fail(w, "Sponsorship not found", err)
		return
	}
	rows, err := h.Store.FindInstallments(r.Context(), kafala.InstallmentFilter{SponsorshipID: id})
	if err != nil {
		h.fail(w, "Failed to load installments", err)
		return
	}
	sp.Installments = rows
	dto := toSponsorshipDTO(*sp, h.Engine.Now())
	stats := kafala.StatsOf(rows)
	dto.Stats = &stats
	writeJSON(w, status, dto)
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPayments returns payments, most recent first.
// GET /api/payments?sponsorId=&beneficiaryId=&guardianId=&type=&from=&to=
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := kafala.PaymentFilter{
		SponsorID:     kafala.SponsorID(q.Get("sponsorId")),
		BeneficiaryID: kafala.BeneficiaryID(q.Get("beneficiaryId")),
		GuardianID:    kafala.GuardianID(q.Get("guardianId")),
		Type:          kafala.PaymentType(q.Get("type")),
	}
	for param, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		if v := q.Get(param); v != "" {
			t, err := factory.ParseDate(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid "+param+" date", err)
				return
			}
			*dst = &t
		}
	}

	payments, err := h.Store.ListPayments(r.Context(), filter)
	if err != nil {
		h.fail(w, "Failed to list payments", err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePayment records a payment and its allocation in one transaction.
// POST /api/payments
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	in, err := h.Factory.ParsePayment(body)
	if err != nil {
		h.fail(w, "Invalid payment", err)
		return
	}
	outcome, err := h.Engine.CreatePayment(r.Context(), in)
	if err != nil {
		h.fail(w, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, PaymentResponse{
		Payment:    toPaymentDTO(*outcome.Payment),
		Allocation: toAllocationDTO(outcome.Result),
	})
}

// PreviewAllocation computes the allocation of an amount without writing.
// POST /api/payments/preview
func (h *Handler) PreviewAllocation(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	sponsorID, amount, err := h.Factory.ParsePreview(body)
	if err != nil {
		h.fail(w, "Invalid preview request", err)
		return
	}
	res, err := h.Engine.Allocate(r.Context(), sponsorID, amount, kafala.AllocateOptions{})
	if err != nil {
		h.fail(w, "Failed to preview allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(res))
}

// GetPayment returns one payment.
// GET /api/payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.FindPayment(r.Context(), kafala.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, "Payment not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// DeletePayment reverses a payment's allocation and deletes it.
// DELETE /api/payments/{id}
func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeletePayment(r.Context(), kafala.PaymentID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, "Failed to delete payment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RECEIPT & TRANSFER HANDLERS
// =============================================================================

// ListReceipts returns receipts, optionally for one sponsor.
// GET /api/receipts?sponsorId=
func (h *Handler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := h.Store.ListReceipts(r.Context(), kafala.SponsorID(r.URL.Query().Get("sponsorId")))
	if err != nil {
		h.fail(w, "Failed to list receipts", err)
		return
	}
	dtos := make([]ReceiptDTO, len(receipts))
	for i, rc := range receipts {
		dtos[i] = toReceiptDTO(rc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateReceipt records a receipt.
// POST /api/receipts
func (h *Handler) CreateReceipt(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	in, err := h.Factory.ParseReceipt(body)
	if err != nil {
		h.fail(w, "Invalid receipt", err)
		return
	}
	rc, err := h.Engine.RecordReceipt(r.Context(), in)
	if err != nil {
		h.fail(w, "Failed to record receipt", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReceiptDTO(*rc))
}

// ListTransfers returns transfers, optionally for one sponsor.
// GET /api/transfers?sponsorId=
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.Store.ListTransfers(r.Context(), kafala.SponsorID(r.URL.Query().Get("sponsorId")))
	if err != nil {
		h.fail(w, "Failed to list transfers", err)
		return
	}
	dtos := make([]TransferDTO, len(transfers))
	for i, t := range transfers {
		dtos[i] = toTransferDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTransfer records a transfer to a guardian.
// POST /api/transfers
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	in, err := h.Factory.ParseTransfer(body)
	if err != nil {
		h.fail(w, "Invalid transfer", err)
		return
	}
	t, err := h.Engine.RecordTransfer(r.Context(), in)
	if err != nil {
		h.fail(w, "Failed to record transfer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransferDTO(*t))
}

// =============================================================================
// REPORTING & ADMIN HANDLERS
// =============================================================================

// GetDashboard returns the dashboard figures.
// GET /api/dashboard
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.Reporter.Dashboard(r.Context(), h.Engine.Now())
	if err != nil {
		h.fail(w, "Failed to compute dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ExtendSchedules runs the horizon extension job now.
// POST /api/admin/extend-schedules
func (h *Handler) ExtendSchedules(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, r, JobExtendSchedules)
}

// RefreshAges runs the age cache refresh job now.
// POST /api/admin/refresh-ages
func (h *Handler) RefreshAges(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, r, JobRefreshAges)
}

// ListJobRuns returns the recent job runs.
// GET /api/admin/jobs
func (h *Handler) ListJobRuns(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, []JobRun{})
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Runs())
}

func (h *Handler) runJob(w http.ResponseWriter, r *http.Request, job string) {
	var (
		n   int
		err error
	)
	if h.Scheduler != nil {
		n, err = h.Scheduler.Run(r.Context(), job, "manual")
	} else {
		n, err = runJob(r.Context(), h.Engine, job)
	}
	if err != nil {
		h.fail(w, "Job "+job+" failed", err)
		return
	}
	writeJSON(w, http.StatusOK, JobResultDTO{Job: job, Changed: n})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		var re *factory.RequestError
		if errors.As(err, &re) {
			resp.Fields = re.Fields
		}
	}
	writeJSON(w, status, resp)
}

// statusFor maps an error class to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, factory.ErrBadRequest):
		return http.StatusBadRequest
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsConflict(err):
		return http.StatusConflict
	case generic.IsClientError(err):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. Server errors are logged.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.Error(message, "error", err)
	}
	writeError(w, status, message, err)
}

// readBody reads a bounded request body. On failure it writes the 400.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", fmt.Errorf("read body: %w", err))
		return nil, false
	}
	return body, true
}

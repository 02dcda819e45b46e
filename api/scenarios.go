/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates sponsors, guardians, orphans,
	sponsorships and payments that show one feature of the engine.

AVAILABLE SCENARIOS:

	two-orphans:     One sponsor, two orphans, one month paid (equal split)
	late-sponsor:    Sponsorship eight months in, nothing paid (overdue, late)
	company-sponsor: Company sponsor, an orphan aging out, receipt and transfer
	sponsor-change:  Orphan moves to a new sponsor (closePrevious) + school grant

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Build each record as a JSON body, exactly as a client would send it
 3. Parse it with the request factory
 4. Write it through the engine (recompute, generation, allocation)

	Dates are relative to the engine clock so the demo always looks current.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "two-orphans"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler dependencies
  - factory/factory.go: JSON request formats
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/kafala-engine/kafala"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "two-orphans",
		Name:        "Two Orphans",
		Description: "Sponsor pledging 600/month for two orphans, last month paid and split equally",
	},
	{
		ID:          "late-sponsor",
		Name:        "Late Sponsor",
		Description: "Sponsorship started eight months ago with no payment: overdue months and a late sponsor",
	},
	{
		ID:          "company-sponsor",
		Name:        "Company Sponsor",
		Description: "Company sponsor with an orphan who just turned 18, a receipt and a transfer to the guardian",
	},
	{
		ID:          "sponsor-change",
		Name:        "Sponsor Change",
		Description: "An orphan moves to a new sponsor, who also pays a school grant (single-beneficiary FIFO)",
	},
}

var scenarioLoaders = map[string]func(*seeder) error{
	"two-orphans":     loadTwoOrphans,
	"late-sponsor":    loadLateSponsor,
	"company-sponsor": loadCompanySponsor,
	"sponsor-change":  loadSponsorChange,
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("no scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.fail(w, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(newSeeder(ctx, h)); err != nil {
		h.fail(w, "Failed to load scenario", fmt.Errorf("%s: %w", req.ScenarioID, err))
		return
	}
	h.currentScenario = req.ScenarioID
	h.Log.Info("loaded scenario", "scenario", req.ScenarioID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.fail(w, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SEEDER
// =============================================================================

// seeder writes scenario records through the factory and the engine.
type seeder struct {
	ctx context.Context
	h   *Handler
	now time.Time
}

func newSeeder(ctx context.Context, h *Handler) *seeder {
	return &seeder{ctx: ctx, h: h, now: h.Engine.Now()}
}

// monthStart is the first day of the month n months from now, as a JSON date.
func (s *seeder) monthStart(n int) string {
	t := time.Date(s.now.Year(), s.now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return t.AddDate(0, n, 0).Format("2006-01-02")
}

func (s *seeder) sponsor(body string) (*kafala.Sponsor, error) {
	in, err := s.h.Factory.ParseSponsor([]byte(body))
	if err != nil {
		return nil, err
	}
	return s.h.Engine.SaveSponsor(s.ctx, in)
}

func (s *seeder) guardian(lastName, firstName string) (*kafala.Guardian, error) {
	in, err := s.h.Factory.ParseGuardian([]byte(fmt.Sprintf(
		`{"lastName": %q, "firstName": %q}`, lastName, firstName)))
	if err != nil {
		return nil, err
	}
	return s.h.Engine.SaveGuardian(s.ctx, in)
}

func (s *seeder) orphan(lastName, firstName, birthDate string, guardian kafala.GuardianID) (*kafala.Beneficiary, error) {
	in, err := s.h.Factory.ParseBeneficiary([]byte(fmt.Sprintf(
		`{"lastName": %q, "firstName": %q, "birthDate": %q, "guardianId": %q}`,
		lastName, firstName, birthDate, guardian)))
	if err != nil {
		return nil, err
	}
	return s.h.Engine.SaveBeneficiary(s.ctx, in)
}

func (s *seeder) sponsorship(sponsor kafala.SponsorID, orphan kafala.BeneficiaryID, start string, closePrevious bool) (*kafala.Sponsorship, error) {
	in, cp, err := s.h.Factory.ParseSponsorship([]byte(fmt.Sprintf(
		`{"sponsorId": %q, "beneficiaryId": %q, "startDate": %q, "closePrevious": %t}`,
		sponsor, orphan, start, closePrevious)))
	if err != nil {
		return nil, err
	}
	return s.h.Engine.CreateSponsorship(s.ctx, in, cp)
}

func (s *seeder) payment(body string) (*kafala.PaymentOutcome, error) {
	in, err := s.h.Factory.ParsePayment([]byte(body))
	if err != nil {
		return nil, err
	}
	return s.h.Engine.CreatePayment(s.ctx, in)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadTwoOrphans(s *seeder) error {
	// Sponsor pledging 600/month, two orphans from two months ago:
	// each installment is due 300.
	sp, err := s.sponsor(`{"type": "PERSONNE_PHYSIQUE", "lastName": "Benali", "firstName": "Karim",
		"email": "karim.benali@example.com", "pledgeValue": 600}`)
	if err != nil {
		return err
	}
	g, err := s.guardian("Alaoui", "Fatima")
	if err != nil {
		return err
	}
	for _, name := range []string{"Youssef", "Salma"} {
		o, err := s.orphan("Alaoui", name, s.now.AddDate(-9, 0, 0).Format("2006-01-02"), g.ID)
		if err != nil {
			return err
		}
		if _, err := s.sponsorship(sp.ID, o.ID, s.monthStart(-2), false); err != nil {
			return err
		}
	}

	// One month paid: 300 to each orphan's oldest installment.
	_, err = s.payment(fmt.Sprintf(`{"amount": 600, "date": %q, "type": "KAFALA", "sponsorId": %q}`,
		s.monthStart(-1), sp.ID))
	return err
}

func loadLateSponsor(s *seeder) error {
	sp, err := s.sponsor(`{"type": "PERSONNE_PHYSIQUE", "lastName": "Idrissi", "firstName": "Nadia", "pledgeValue": 300}`)
	if err != nil {
		return err
	}
	g, err := s.guardian("Tazi", "Khadija")
	if err != nil {
		return err
	}
	o, err := s.orphan("Tazi", "Omar", s.now.AddDate(-6, -3, 0).Format("2006-01-02"), g.ID)
	if err != nil {
		return err
	}
	_, err = s.sponsorship(sp.ID, o.ID, s.monthStart(-8), false)
	return err
}

func loadCompanySponsor(s *seeder) error {
	sp, err := s.sponsor(`{"type": "SOCIETE", "lastName": "Atlas Distribution", "ice": "001525478000089",
		"email": "rse@atlas.example.com", "pledgeValue": 900}`)
	if err != nil {
		return err
	}
	g, err := s.guardian("Berrada", "Amina")
	if err != nil {
		return err
	}

	// Turned 18 last month: flagged by the age alert.
	older, err := s.orphan("Berrada", "Hamza", s.now.AddDate(-18, -1, 0).Format("2006-01-02"), g.ID)
	if err != nil {
		return err
	}
	younger, err := s.orphan("Berrada", "Imane", s.now.AddDate(-12, 0, 0).Format("2006-01-02"), g.ID)
	if err != nil {
		return err
	}
	for _, o := range []*kafala.Beneficiary{older, younger} {
		if _, err := s.sponsorship(sp.ID, o.ID, s.monthStart(-3), false); err != nil {
			return err
		}
	}

	// Two months paid at once (450 per orphan per month).
	if _, err := s.payment(fmt.Sprintf(`{"amount": 1800, "date": %q, "sponsorId": %q}`,
		s.monthStart(0), sp.ID)); err != nil {
		return err
	}

	receipt, err := s.h.Factory.ParseReceipt([]byte(fmt.Sprintf(
		`{"number": %q, "sponsorId": %q, "ice": "001525478000089", "total": 1800, "type": "KAFALA",
		  "lines": {"months": 2, "orphans": 2}}`,
		"R-"+s.now.Format("200601")+"-001", sp.ID)))
	if err != nil {
		return err
	}
	if _, err := s.h.Engine.RecordReceipt(s.ctx, receipt); err != nil {
		return err
	}

	transfer, err := s.h.Factory.ParseTransfer([]byte(fmt.Sprintf(
		`{"guardianId": %q, "beneficiaryId": %q, "sponsorId": %q, "pledgeValue": 450, "months": 2}`,
		g.ID, older.ID, sp.ID)))
	if err != nil {
		return err
	}
	_, err = s.h.Engine.RecordTransfer(s.ctx, transfer)
	return err
}

func loadSponsorChange(s *seeder) error {
	first, err := s.sponsor(`{"type": "PERSONNE_PHYSIQUE", "lastName": "Chraibi", "firstName": "Mehdi", "pledgeValue": 400}`)
	if err != nil {
		return err
	}
	second, err := s.sponsor(`{"type": "PERSONNE_PHYSIQUE", "lastName": "Lahlou", "firstName": "Sara", "pledgeValue": 500}`)
	if err != nil {
		return err
	}
	g, err := s.guardian("Fassi", "Latifa")
	if err != nil {
		return err
	}
	o, err := s.orphan("Fassi", "Adam", s.now.AddDate(-10, 0, 0).Format("2006-01-02"), g.ID)
	if err != nil {
		return err
	}

	if _, err := s.sponsorship(first.ID, o.ID, s.monthStart(-6), false); err != nil {
		return err
	}
	if _, err := s.payment(fmt.Sprintf(`{"amount": 1200, "date": %q, "sponsorId": %q}`,
		s.monthStart(-3), first.ID)); err != nil {
		return err
	}

	// The second sponsor takes over: the first sponsorship is closed now.
	if _, err := s.sponsorship(second.ID, o.ID, s.monthStart(0), true); err != nil {
		return err
	}

	// A school grant naming the orphan runs the single-beneficiary FIFO.
	_, err = s.payment(fmt.Sprintf(`{"amount": 250, "type": "DAAM_MADRASSI", "sponsorId": %q, "beneficiaryId": %q}`,
		second.ID, o.ID))
	return err
}

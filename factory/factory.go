/*
Package factory provides JSON to Go request conversion.

PURPOSE:
  Converts JSON request bodies into kafala inputs. Structure is checked here
  (required fields, known enum values, parseable dates); business rules such
  as "amount must be positive" stay in the engine so that they are reported
  the same way whatever the entry point.

JSON SCHEMA (payment):
  {
    "amount": "600.00",
    "date": "2025-03-15",
    "type": "KAFALA",
    "sponsorId": "7f0c...",
    "allocation": [
      {
        "beneficiaryId": "b-1",
        "sponsorshipId": "sp-1",
        "installmentId": "sp-1-2025-01",
        "month": "2025-01-01",
        "amountApplied": "300"
      }
    ]
  }

  Money fields accept JSON numbers or decimal strings. Dates accept
  "2006-01-02" or RFC3339. Months accept "2006-01" or "2006-01-02".

ERRORS:
  Malformed JSON and failed struct validation return a *RequestError
  (errors.Is(err, ErrBadRequest)), carrying one message per JSON field.

USAGE:
  f := factory.NewRequestFactory()

  in, err := f.ParsePayment(body)
  if err != nil {
      // 400
  }
  outcome, err := engine.CreatePayment(ctx, in)

SEE ALSO:
  - kafala/payments.go: Payment field rules (422 on violation)
  - api/handlers.go: Maps ErrBadRequest to 400
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/kafala-engine/generic"
	"github.com/warp/kafala-engine/kafala"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrBadRequest is the class of malformed request bodies.
var ErrBadRequest = errors.New("bad request")

// RequestError lists what is wrong with a request body, keyed by JSON field.
type RequestError struct {
	Message string
	Fields  map[string]string
}

func (e *RequestError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return e.Message + " (" + strings.Join(parts, ", ") + ")"
}

func (e *RequestError) Unwrap() error {
	return ErrBadRequest
}

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type SponsorJSON struct {
	Type        string          `json:"type" validate:"required,oneof=PERSONNE_PHYSIQUE SOCIETE"`
	LastName    string          `json:"lastName" validate:"required"`
	FirstName   string          `json:"firstName"`
	CIN         string          `json:"cin"`
	ICE         string          `json:"ice"`
	Email       string          `json:"email" validate:"omitempty,email"`
	Phone       string          `json:"phone"`
	Address     string          `json:"address"`
	PledgeValue decimal.Decimal `json:"pledgeValue"`
}

type GuardianJSON struct {
	LastName  string `json:"lastName" validate:"required"`
	FirstName string `json:"firstName"`
	CIN       string `json:"cin"`
	RIB       string `json:"rib"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
}

type BeneficiaryJSON struct {
	LastName   string `json:"lastName" validate:"required"`
	FirstName  string `json:"firstName"`
	BirthDate  string `json:"birthDate" validate:"required,date"`
	GuardianID string `json:"guardianId" validate:"required"`
}

type SponsorshipJSON struct {
	SponsorID     string          `json:"sponsorId" validate:"required"`
	BeneficiaryID string          `json:"beneficiaryId" validate:"required"`
	StartDate     string          `json:"startDate" validate:"required,date"`
	EndDate       string          `json:"endDate" validate:"omitempty,date"`
	PledgeValue   decimal.Decimal `json:"pledgeValue"`
	ClosePrevious bool            `json:"closePrevious"`
}

type SponsorshipChangeJSON struct {
	StartDate    *string          `json:"startDate" validate:"omitempty,date"`
	EndDate      *string          `json:"endDate" validate:"omitempty,date"`
	ClearEndDate bool             `json:"clearEndDate"`
	PledgeValue  *decimal.Decimal `json:"pledgeValue"`
}

type AllocationLineJSON struct {
	BeneficiaryID string          `json:"beneficiaryId" validate:"required"`
	SponsorshipID string          `json:"sponsorshipId" validate:"required"`
	InstallmentID string          `json:"installmentId" validate:"required"`
	Month         string          `json:"month" validate:"required,month"`
	AmountApplied decimal.Decimal `json:"amountApplied"`
}

type PaymentJSON struct {
	Amount        decimal.Decimal      `json:"amount"`
	Date          string               `json:"date" validate:"omitempty,date"`
	Type          string               `json:"type" validate:"omitempty,oneof=KAFALA DAAM_MADRASSI AUTRE"`
	SponsorID     string               `json:"sponsorId"`
	BeneficiaryID string               `json:"beneficiaryId"`
	GuardianID    string               `json:"guardianId"`
	ReceiptID     string               `json:"receiptId"`
	Allocation    []AllocationLineJSON `json:"allocation" validate:"omitempty,dive"`
}

type PreviewJSON struct {
	SponsorID string          `json:"sponsorId" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

type PledgeJSON struct {
	PledgeValue decimal.Decimal `json:"pledgeValue"`
}

type BirthDateJSON struct {
	BirthDate string `json:"birthDate" validate:"required,date"`
}

type ReceiptJSON struct {
	Number    string          `json:"number" validate:"required"`
	SponsorID string          `json:"sponsorId"`
	ICE       string          `json:"ice"`
	Total     decimal.Decimal `json:"total"`
	Type      string          `json:"type" validate:"required,oneof=KAFALA DAAM_MADRASSI AUTRE"`
	Lines     map[string]any  `json:"lines"`
	IssuedAt  string          `json:"issuedAt" validate:"omitempty,date"`
}

type TransferJSON struct {
	GuardianID    string          `json:"guardianId" validate:"required"`
	BeneficiaryID string          `json:"beneficiaryId" validate:"required"`
	SponsorID     string          `json:"sponsorId" validate:"required"`
	PledgeValue   decimal.Decimal `json:"pledgeValue"`
	Months        int             `json:"months" validate:"required,min=1"`
	Date          string          `json:"date" validate:"omitempty,date"`
}

// =============================================================================
// REQUEST FACTORY
// =============================================================================

// RequestFactory converts JSON bodies to kafala inputs.
type RequestFactory struct {
	validate *validator.Validate
}

// NewRequestFactory creates a factory with the date, month and decimal rules
// registered.
func NewRequestFactory() *RequestFactory {
	v := validator.New()

	// Report JSON field names, not Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("date", func(fl validator.FieldLevel) bool {
		_, err := ParseDate(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("month", func(fl validator.FieldLevel) bool {
		_, err := generic.ParseMonth(fl.Field().String())
		return err == nil
	})

	return &RequestFactory{validate: v}
}

// decode unmarshals data into dst and validates it.
func (f *RequestFactory) decode(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return &RequestError{Message: "invalid JSON: " + err.Error()}
	}
	if err := f.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &RequestError{Message: err.Error()}
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fieldPath(fe)] = describe(fe)
		}
		return &RequestError{Message: "invalid request", Fields: fields}
	}
	return nil
}

// fieldPath drops the root struct name: "PaymentJSON.allocation[0].month"
// becomes "allocation[0].month".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "date":
		return "must be a date (YYYY-MM-DD)"
	case "month":
		return "must be a month (YYYY-MM)"
	case "email":
		return "must be an email address"
	case "min":
		return "must be at least " + fe.Param()
	}
	return "failed " + fe.Tag()
}

// ParseDate accepts "2006-01-02" and RFC3339, returning UTC.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", s)
}

// optionalDate parses s when set. Callers validated the format already.
func optionalDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := ParseDate(s)
	if err != nil {
		return nil
	}
	return &t
}

func mustDate(s string) time.Time {
	if t := optionalDate(s); t != nil {
		return *t
	}
	return time.Time{}
}

// =============================================================================
// REGISTRY
// =============================================================================

// ParseSponsor parses a sponsor creation body.
func (f *RequestFactory) ParseSponsor(data []byte) (kafala.Sponsor, error) {
	var sj SponsorJSON
	if err := f.decode(data, &sj); err != nil {
		return kafala.Sponsor{}, err
	}
	return kafala.Sponsor{
		Type:        kafala.SponsorType(sj.Type),
		LastName:    strings.TrimSpace(sj.LastName),
		FirstName:   strings.TrimSpace(sj.FirstName),
		CIN:         sj.CIN,
		ICE:         sj.ICE,
		Email:       sj.Email,
		Phone:       sj.Phone,
		Address:     sj.Address,
		PledgeValue: sj.PledgeValue,
	}, nil
}

// ParseGuardian parses a guardian creation body.
func (f *RequestFactory) ParseGuardian(data []byte) (kafala.Guardian, error) {
	var gj GuardianJSON
	if err := f.decode(data, &gj); err != nil {
		return kafala.Guardian{}, err
	}
	return kafala.Guardian{
		LastName:  strings.TrimSpace(gj.LastName),
		FirstName: strings.TrimSpace(gj.FirstName),
		CIN:       gj.CIN,
		RIB:       gj.RIB,
		Phone:     gj.Phone,
		Address:   gj.Address,
	}, nil
}

// ParseBeneficiary parses a beneficiary creation body.
func (f *RequestFactory) ParseBeneficiary(data []byte) (kafala.Beneficiary, error) {
	var bj BeneficiaryJSON
	if err := f.decode(data, &bj); err != nil {
		return kafala.Beneficiary{}, err
	}
	return kafala.Beneficiary{
		LastName:   strings.TrimSpace(bj.LastName),
		FirstName:  strings.TrimSpace(bj.FirstName),
		BirthDate:  mustDate(bj.BirthDate),
		GuardianID: kafala.GuardianID(bj.GuardianID),
	}, nil
}

// ParseBirthDate parses a birth date change body.
func (f *RequestFactory) ParseBirthDate(data []byte) (time.Time, error) {
	var bj BirthDateJSON
	if err := f.decode(data, &bj); err != nil {
		return time.Time{}, err
	}
	return mustDate(bj.BirthDate), nil
}

// ParsePledge parses a pledge change body.
func (f *RequestFactory) ParsePledge(data []byte) (decimal.Decimal, error) {
	var pj PledgeJSON
	if err := f.decode(data, &pj); err != nil {
		return decimal.Zero, err
	}
	return pj.PledgeValue, nil
}

// ParseReceipt parses a receipt body. IssuedAt defaults to the zero time;
// the caller stamps it.
func (f *RequestFactory) ParseReceipt(data []byte) (kafala.Receipt, error) {
	var rj ReceiptJSON
	if err := f.decode(data, &rj); err != nil {
		return kafala.Receipt{}, err
	}
	return kafala.Receipt{
		Number:    rj.Number,
		SponsorID: kafala.SponsorID(rj.SponsorID),
		ICE:       rj.ICE,
		Total:     rj.Total,
		Type:      kafala.PaymentType(rj.Type),
		Lines:     rj.Lines,
		IssuedAt:  mustDate(rj.IssuedAt),
	}, nil
}

// ParseTransfer parses a transfer body.
func (f *RequestFactory) ParseTransfer(data []byte) (kafala.Transfer, error) {
	var tj TransferJSON
	if err := f.decode(data, &tj); err != nil {
		return kafala.Transfer{}, err
	}
	return kafala.Transfer{
		GuardianID:    kafala.GuardianID(tj.GuardianID),
		BeneficiaryID: kafala.BeneficiaryID(tj.BeneficiaryID),
		SponsorID:     kafala.SponsorID(tj.SponsorID),
		PledgeValue:   tj.PledgeValue,
		Months:        tj.Months,
		Date:          mustDate(tj.Date),
	}, nil
}

// =============================================================================
// SPONSORSHIPS
// =============================================================================

// ParseSponsorship parses a sponsorship creation body and its closePrevious flag.
func (f *RequestFactory) ParseSponsorship(data []byte) (kafala.SponsorshipInput, bool, error) {
	var sj SponsorshipJSON
	if err := f.decode(data, &sj); err != nil {
		return kafala.SponsorshipInput{}, false, err
	}
	return kafala.SponsorshipInput{
		SponsorID:     kafala.SponsorID(sj.SponsorID),
		BeneficiaryID: kafala.BeneficiaryID(sj.BeneficiaryID),
		StartDate:     mustDate(sj.StartDate),
		EndDate:       optionalDate(sj.EndDate),
		PledgeValue:   sj.PledgeValue,
	}, sj.ClosePrevious, nil
}

// ParseSponsorshipChange parses a reschedule body.
func (f *RequestFactory) ParseSponsorshipChange(data []byte) (kafala.SponsorshipChange, error) {
	var cj SponsorshipChangeJSON
	if err := f.decode(data, &cj); err != nil {
		return kafala.SponsorshipChange{}, err
	}
	change := kafala.SponsorshipChange{
		ClearEndDate: cj.ClearEndDate,
		PledgeValue:  cj.PledgeValue,
	}
	if cj.StartDate != nil {
		change.StartDate = optionalDate(*cj.StartDate)
	}
	if cj.EndDate != nil {
		change.EndDate = optionalDate(*cj.EndDate)
	}
	return change, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// ParsePayment parses a payment body. An empty allocation list is the same
// as no allocation.
func (f *RequestFactory) ParsePayment(data []byte) (kafala.PaymentInput, error) {
	var pj PaymentJSON
	if err := f.decode(data, &pj); err != nil {
		return kafala.PaymentInput{}, err
	}

	in := kafala.PaymentInput{
		Amount:        pj.Amount,
		Type:          kafala.PaymentType(pj.Type),
		SponsorID:     kafala.SponsorID(pj.SponsorID),
		BeneficiaryID: kafala.BeneficiaryID(pj.BeneficiaryID),
		GuardianID:    kafala.GuardianID(pj.GuardianID),
		ReceiptID:     kafala.ReceiptID(pj.ReceiptID),
	}
	if d := optionalDate(pj.Date); d != nil {
		in.Date = *d
	}
	if len(pj.Allocation) > 0 {
		in.Allocation = make([]kafala.AllocationLine, len(pj.Allocation))
		for i, lj := range pj.Allocation {
			m, _ := generic.ParseMonth(lj.Month)
			in.Allocation[i] = kafala.AllocationLine{
				BeneficiaryID: kafala.BeneficiaryID(lj.BeneficiaryID),
				SponsorshipID: kafala.SponsorshipID(lj.SponsorshipID),
				InstallmentID: kafala.InstallmentID(lj.InstallmentID),
				Month:         m,
				AmountApplied: lj.AmountApplied,
			}
		}
	}
	return in, nil
}

// ParsePreview parses an allocation preview body.
func (f *RequestFactory) ParsePreview(data []byte) (kafala.SponsorID, decimal.Decimal, error) {
	var pj PreviewJSON
	if err := f.decode(data, &pj); err != nil {
		return "", decimal.Zero, err
	}
	return kafala.SponsorID(pj.SponsorID), pj.Amount, nil
}

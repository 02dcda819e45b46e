package factory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/kafala-engine/factory"
	"github.com/warp/kafala-engine/generic"
	"github.com/warp/kafala-engine/kafala"
)

// requestFields asserts err is a RequestError and returns its field messages.
func requestFields(t *testing.T, err error) map[string]string {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, factory.ErrBadRequest)
	var re *factory.RequestError
	require.True(t, errors.As(err, &re))
	return re.Fields
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestParsePayment_EditedPlan(t *testing.T) {
	f := factory.NewRequestFactory()

	in, err := f.ParsePayment([]byte(`{
		"amount": "600.00",
		"date": "2025-03-15",
		"type": "KAFALA",
		"sponsorId": "s-1",
		"allocation": [
			{"beneficiaryId": "b-1", "sponsorshipId": "sp-1", "installmentId": "sp-1-2025-01", "month": "2025-01-01", "amountApplied": 300},
			{"beneficiaryId": "b-2", "sponsorshipId": "sp-2", "installmentId": "sp-2-2025-01", "month": "2025-01", "amountApplied": "300"}
		]
	}`))

	require.NoError(t, err)
	assert.Equal(t, "600", in.Amount.String())
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), in.Date)
	assert.Equal(t, kafala.PaymentKafala, in.Type)
	assert.Equal(t, kafala.SponsorID("s-1"), in.SponsorID)
	require.Len(t, in.Allocation, 2)
	assert.Equal(t, generic.NewMonth(2025, time.January), in.Allocation[0].Month)
	assert.Equal(t, generic.NewMonth(2025, time.January), in.Allocation[1].Month)
	assert.Equal(t, "300", in.Allocation[1].AmountApplied.String())
}

func TestParsePayment_EmptyAllocationMeansAuto(t *testing.T) {
	f := factory.NewRequestFactory()

	in, err := f.ParsePayment([]byte(`{"amount": 100, "sponsorId": "s-1", "allocation": []}`))

	require.NoError(t, err)
	assert.Nil(t, in.Allocation)
	assert.True(t, in.Date.IsZero(), "the engine defaults the date")
	assert.Equal(t, kafala.PaymentType(""), in.Type, "the engine defaults the type")
}

func TestParsePayment_RFC3339Date(t *testing.T) {
	f := factory.NewRequestFactory()

	in, err := f.ParsePayment([]byte(`{"amount": 100, "sponsorId": "s-1", "date": "2025-03-15T12:30:00+01:00"}`))

	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 15, 11, 30, 0, 0, time.UTC), in.Date)
}

func TestParsePayment_Rejections(t *testing.T) {
	f := factory.NewRequestFactory()

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"unknown type", `{"amount": 1, "type": "CASH"}`, "type"},
		{"bad date", `{"amount": 1, "date": "15/03/2025"}`, "date"},
		{"line without installment", `{"amount": 1, "allocation": [{"beneficiaryId": "b", "sponsorshipId": "s", "month": "2025-01"}]}`, "allocation[0].installmentId"},
		{"line with bad month", `{"amount": 1, "allocation": [{"beneficiaryId": "b", "sponsorshipId": "s", "installmentId": "i", "month": "January"}]}`, "allocation[0].month"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParsePayment([]byte(tt.body))
			fields := requestFields(t, err)
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestParsePayment_MalformedJSON(t *testing.T) {
	f := factory.NewRequestFactory()

	_, err := f.ParsePayment([]byte(`{"amount": `))

	fields := requestFields(t, err)
	assert.Empty(t, fields)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestParsePayment_NonPositiveAmountIsLeftToTheEngine(t *testing.T) {
	f := factory.NewRequestFactory()

	in, err := f.ParsePayment([]byte(`{"amount": -5, "sponsorId": "s-1"}`))

	require.NoError(t, err)
	assert.True(t, in.Amount.IsNegative())
}

func TestParsePreview(t *testing.T) {
	f := factory.NewRequestFactory()

	id, amount, err := f.ParsePreview([]byte(`{"sponsorId": "s-1", "amount": "1200"}`))
	require.NoError(t, err)
	assert.Equal(t, kafala.SponsorID("s-1"), id)
	assert.Equal(t, "1200", amount.String())

	_, _, err = f.ParsePreview([]byte(`{"amount": "1200"}`))
	assert.Equal(t, "is required", requestFields(t, err)["sponsorId"])
}

// =============================================================================
// REGISTRY & SPONSORSHIPS
// =============================================================================

func TestParseSponsor(t *testing.T) {
	f := factory.NewRequestFactory()

	s, err := f.ParseSponsor([]byte(`{"type": "SOCIETE", "lastName": " Atlas ", "ice": "001", "pledgeValue": 900}`))
	require.NoError(t, err)
	assert.Equal(t, kafala.SponsorOrganization, s.Type)
	assert.Equal(t, "Atlas", s.LastName)
	assert.Equal(t, "900", s.PledgeValue.String())

	_, err = f.ParseSponsor([]byte(`{"type": "OTHER", "email": "nope"}`))
	fields := requestFields(t, err)
	assert.Contains(t, fields, "type")
	assert.Contains(t, fields, "lastName")
	assert.Equal(t, "must be an email address", fields["email"])
}

func TestParseBeneficiary(t *testing.T) {
	f := factory.NewRequestFactory()

	b, err := f.ParseBeneficiary([]byte(`{"lastName": "Orphan", "birthDate": "2015-06-01", "guardianId": "g-1"}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2015, 6, 1, 0, 0, 0, 0, time.UTC), b.BirthDate)
	assert.Equal(t, kafala.GuardianID("g-1"), b.GuardianID)

	_, err = f.ParseBeneficiary([]byte(`{"lastName": "Orphan", "birthDate": "soon"}`))
	fields := requestFields(t, err)
	assert.Equal(t, "must be a date (YYYY-MM-DD)", fields["birthDate"])
	assert.Contains(t, fields, "guardianId")
}

func TestParseSponsorship(t *testing.T) {
	f := factory.NewRequestFactory()

	in, closePrevious, err := f.ParseSponsorship([]byte(`{
		"sponsorId": "s-1", "beneficiaryId": "b-1",
		"startDate": "2025-01-01", "endDate": "2025-12-31", "closePrevious": true
	}`))

	require.NoError(t, err)
	assert.True(t, closePrevious)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), in.StartDate)
	require.NotNil(t, in.EndDate)
	assert.Equal(t, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), *in.EndDate)
	assert.True(t, in.PledgeValue.IsZero(), "zero takes the sponsor pledge")
}

func TestParseSponsorshipChange(t *testing.T) {
	f := factory.NewRequestFactory()

	change, err := f.ParseSponsorshipChange([]byte(`{"startDate": "2025-02-01", "pledgeValue": 450}`))
	require.NoError(t, err)
	require.NotNil(t, change.StartDate)
	assert.Nil(t, change.EndDate)
	require.NotNil(t, change.PledgeValue)
	assert.Equal(t, "450", change.PledgeValue.String())

	_, err = f.ParseSponsorshipChange([]byte(`{"endDate": "later"}`))
	assert.Contains(t, requestFields(t, err), "endDate")
}

func TestParseTransfer(t *testing.T) {
	f := factory.NewRequestFactory()

	_, err := f.ParseTransfer([]byte(`{"guardianId": "g", "beneficiaryId": "b", "sponsorId": "s", "months": 0}`))
	assert.Contains(t, requestFields(t, err), "months")

	tr, err := f.ParseTransfer([]byte(`{"guardianId": "g", "beneficiaryId": "b", "sponsorId": "s", "months": 2, "pledgeValue": 300}`))
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Months)
}

func TestParseReceipt(t *testing.T) {
	f := factory.NewRequestFactory()

	r, err := f.ParseReceipt([]byte(`{"number": "R-1", "type": "DAAM_MADRASSI", "total": "150.5", "lines": {"note": "school"}}`))
	require.NoError(t, err)
	assert.Equal(t, kafala.PaymentSchoolGrant, r.Type)
	assert.Equal(t, "school", r.Lines["note"])

	_, err = f.ParseReceipt([]byte(`{"type": "KAFALA"}`))
	assert.Contains(t, requestFields(t, err), "number")
}

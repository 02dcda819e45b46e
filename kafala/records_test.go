package kafala_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/kafala-engine/generic"
	"github.com/warp/kafala-engine/kafala"
)

func TestRecordReceipt(t *testing.T) {
	f := newFixture(t)
	s := f.sponsor(600)

	// WHEN: A receipt is recorded without an issue date
	r, err := f.engine.RecordReceipt(f.ctx, kafala.Receipt{
		Number:    "R-2025-001",
		SponsorID: s.ID,
		Total:     money(600),
		Type:      kafala.PaymentKafala,
	})

	// THEN: It is stamped with the clock and listed for the sponsor
	require.NoError(t, err)
	assert.Equal(t, testNow, r.IssuedAt)
	list, err := f.store.ListReceipts(f.ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "R-2025-001", list[0].Number)
}

func TestRecordReceipt_Rejections(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.RecordReceipt(f.ctx, kafala.Receipt{Total: money(10), Type: kafala.PaymentKafala})
	assert.True(t, generic.IsClientError(err), "missing number")

	_, err = f.engine.RecordReceipt(f.ctx, kafala.Receipt{Number: "R-1", Type: kafala.PaymentKafala})
	assert.ErrorIs(t, err, generic.ErrNonPositiveAmount)

	_, err = f.engine.RecordReceipt(f.ctx, kafala.Receipt{Number: "R-1", Total: money(10), Type: "CASH"})
	assert.True(t, generic.IsClientError(err), "unknown type")

	_, err = f.engine.RecordReceipt(f.ctx, kafala.Receipt{
		Number: "R-1", Total: money(10), Type: kafala.PaymentKafala, SponsorID: "ghost",
	})
	assert.True(t, generic.IsNotFound(err))
}

func TestRecordTransfer(t *testing.T) {
	f := newFixture(t)
	s := f.sponsor(600)
	b := f.beneficiary()

	tr, err := f.engine.RecordTransfer(f.ctx, kafala.Transfer{
		GuardianID:    b.GuardianID,
		BeneficiaryID: b.ID,
		SponsorID:     s.ID,
		PledgeValue:   money(300),
		Months:        3,
		Date:          day(2025, time.February, 1),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, tr.ID)

	list, err := f.store.ListTransfers(f.ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.engine.RecordTransfer(f.ctx, kafala.Transfer{
		GuardianID: b.GuardianID, BeneficiaryID: b.ID, SponsorID: s.ID, PledgeValue: money(300),
	})
	assert.True(t, generic.IsClientError(err), "zero months")

	_, err = f.engine.RecordTransfer(f.ctx, kafala.Transfer{
		GuardianID: "ghost", BeneficiaryID: b.ID, SponsorID: s.ID, PledgeValue: money(300), Months: 1,
	})
	assert.True(t, generic.IsNotFound(err))
}

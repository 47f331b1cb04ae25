package billing_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
	"github.com/trezcool/bursar/core/fee"
	"github.com/trezcool/bursar/core/principal"
	"github.com/trezcool/bursar/services/cache"
	"github.com/trezcool/bursar/services/email"
	"github.com/trezcool/bursar/services/events"
	"github.com/trezcool/bursar/services/logger"
	"github.com/trezcool/bursar/storage/database/inmem"
)

var (
	now    = time.Date(2025, time.January, 15, 9, 30, 0, 0, time.UTC)
	bursar = principal.Principal{ID: "bursar-1", Username: "bursar", Roles: []string{principal.RoleAdminBursar}}
)

type testEnv struct {
	ctx    context.Context
	db     *inmemdb.DB
	feeSvc *fee.Service
	svc    *billing.Service
	events *eventsvc.Recorder
	cache  *cachesvc.MemoryCache
	mail   *emailsvc.ConsoleService
}

func setup(t *testing.T, opts billing.Options) *testEnv {
	t.Helper()
	billing.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { billing.NowFunc = time.Now })

	conf := core.NewTestConfig()
	logger := logsvc.NewTestLogger()
	core.ParseEmailTemplates(conf, logger)

	db := inmemdb.Open()
	feeRepo := inmemdb.NewFeeRepository(db)
	env := &testEnv{
		ctx:    context.Background(),
		db:     db,
		feeSvc: fee.NewService(feeRepo, logger),
		events: eventsvc.NewRecorder(),
		cache:  cachesvc.NewMemoryCache(),
		mail:   emailsvc.NewConsoleServiceMock(conf, logger),
	}
	env.svc = billing.NewService(
		inmemdb.NewBillingStore(db),
		feeRepo,
		inmemdb.NewRosterRepository(db),
		env.events,
		env.cache,
		env.mail,
		logger,
		opts,
	)
	return env
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func (env *testEnv) structure(t *testing.T, code string, recurring bool, frequency, amount string) fee.FeeStructure {
	t.Helper()
	ft, err := env.feeSvc.CreateFeeType(env.ctx, fee.NewFeeType{
		Name:        code,
		Code:        code,
		Category:    fee.CategoryAcademic,
		IsRecurring: recurring,
	})
	require.NoError(t, err)
	fs, err := env.feeSvc.CreateFeeStructure(env.ctx, fee.NewFeeStructure{
		ClassID:      "grade-1",
		FeeTypeID:    ft.ID,
		AcademicYear: "2024-25",
		Amount:       dec(amount),
		Frequency:    frequency,
	})
	require.NoError(t, err)
	return fs
}

// assignOne assigns fs to a single student & returns the created StudentFee.
func (env *testEnv) assignOne(t *testing.T, fs fee.FeeStructure, studentID string) billing.StudentFee {
	t.Helper()
	res, err := env.svc.AssignToStudents(env.ctx, []string{studentID}, billing.Assignment{FeeStructureID: fs.ID})
	require.NoError(t, err)
	require.Equal(t, 1, res.Assigned, res.Results)
	sf, err := env.svc.GetStudentFee(env.ctx, res.Results[0].StudentFeeID)
	require.NoError(t, err)
	return sf
}

func (env *testEnv) pay(t *testing.T, sf billing.StudentFee, amount string) billing.Receipt {
	t.Helper()
	rcpt, err := env.svc.RecordPayment(env.ctx, billing.NewPayment{
		StudentFeeID:  sf.ID,
		StudentID:     sf.StudentID,
		Amount:        dec(amount),
		PaymentMethod: billing.MethodCash,
	}, bursar)
	require.NoError(t, err)
	return rcpt
}

func (env *testEnv) dues(t *testing.T, sf billing.StudentFee) []billing.MonthlyDue {
	t.Helper()
	st, err := env.svc.Statement(env.ctx, sf.ID)
	require.NoError(t, err)
	return st.Installments
}

func TestService_AssignToStudents(t *testing.T) {
	env := setup(t, billing.Options{})
	tuition := env.structure(t, "TUITION", true, fee.FrequencyMonthly, "1000")

	res, err := env.svc.AssignToStudents(env.ctx, []string{"stu-1", "stu-2", "stu-2", " stu-1 "}, billing.Assignment{
		FeeStructureID: tuition.ID,
		DueDate:        core.NewDate(2025, time.June, 30),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Assigned)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 0, res.Failed)
	require.Len(t, res.Results, 2)

	for _, r := range res.Results {
		assert.Equal(t, billing.OutcomeAssigned, r.Outcome)
		assert.Equal(t, 12, r.Installments)

		sf, err := env.svc.GetStudentFee(env.ctx, r.StudentFeeID)
		require.NoError(t, err)
		assert.Equal(t, r.StudentID, sf.StudentID)
		assert.Equal(t, "2024-25", sf.AcademicYear)
		assert.Equal(t, billing.StatusPending, sf.Status)
		assertDec(t, "1000", sf.TotalAmount)
		assertDec(t, "1000", sf.DueAmount)
		assert.True(t, sf.Balanced())
		assert.Equal(t, core.NewDate(2025, time.June, 30), sf.DueDate)

		dues := env.dues(t, sf)
		require.Len(t, dues, 12)
		assert.Equal(t, 1, dues[0].Month)
		assert.Equal(t, 2025, dues[0].Year)
		assert.Equal(t, core.NewDate(2025, time.January, 10), dues[0].DueDate)
		assert.Equal(t, 12, dues[11].Month)
	}
	assert.Len(t, env.events.Events(billing.EventFeesAssigned), 1)

	t.Run("re-assigning skips", func(t *testing.T) {
		res, err := env.svc.AssignToStudents(env.ctx, []string{"stu-1", "stu-2", "stu-3"}, billing.Assignment{FeeStructureID: tuition.ID})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Assigned)
		assert.Equal(t, 2, res.Skipped)

		n, err := env.feeSvc.IsFrozen(env.ctx, tuition.ID)
		require.NoError(t, err)
		assert.True(t, n)
		count, err := inmemdb.NewFeeRepository(env.db).CountStudentFees(env.ctx, tuition.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("override amount", func(t *testing.T) {
		bus := env.structure(t, "BUS", false, fee.FrequencyYearly, "300")
		res, err := env.svc.AssignToStudents(env.ctx, []string{"stu-1"}, billing.Assignment{
			FeeStructureID: bus.ID,
			OverrideAmount: decimal.NewNullDecimal(dec("150.50")),
		})
		require.NoError(t, err)
		require.Equal(t, 1, res.Assigned)
		assert.Equal(t, 0, res.Results[0].Installments)

		sf, err := env.svc.GetStudentFee(env.ctx, res.Results[0].StudentFeeID)
		require.NoError(t, err)
		assertDec(t, "150.50", sf.TotalAmount)
		assert.Empty(t, env.dues(t, sf))
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name    string
			ids     []string
			a       billing.Assignment
			checkFn func(error) bool
		}{
			{"unknown structure", []string{"stu-1"}, billing.Assignment{FeeStructureID: "nope"}, core.IsNotFound},
			{"no students", []string{" ", ""}, billing.Assignment{FeeStructureID: tuition.ID}, core.IsNotFound},
			{"year mismatch", []string{"stu-1"}, billing.Assignment{FeeStructureID: tuition.ID, AcademicYear: "2025-26"}, core.IsValidation},
			{"negative override", []string{"stu-1"}, billing.Assignment{FeeStructureID: tuition.ID, OverrideAmount: decimal.NewNullDecimal(dec("-1"))}, core.IsValidation},
			{"override with cents", []string{"stu-1"}, billing.Assignment{FeeStructureID: tuition.ID, OverrideAmount: decimal.NewNullDecimal(dec("1.001"))}, core.IsValidation},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := env.svc.AssignToStudents(env.ctx, tt.ids, tt.a)
				require.Error(t, err)
				assert.True(t, tt.checkFn(err), err.Error())
			})
		}
	})
}

func TestService_AssignToClass(t *testing.T) {
	env := setup(t, billing.Options{})
	tuition := env.structure(t, "TUITION", true, fee.FrequencyMonthly, "1000")
	roster := inmemdb.NewRosterRepository(env.db)
	require.NoError(t, roster.Enroll(env.ctx, "grade-1", "2024-25", "stu-1", "stu-2", "stu-3"))
	require.NoError(t, roster.Enroll(env.ctx, "grade-1", "2023-24", "stu-9"))

	res, err := env.svc.AssignToClass(env.ctx, "grade-1", billing.Assignment{FeeStructureID: tuition.ID})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Assigned)

	_, err = env.svc.AssignToClass(env.ctx, "grade-2", billing.Assignment{FeeStructureID: tuition.ID})
	assert.Equal(t, billing.ErrNoStudents, errors.Cause(err))
}

func TestService_AssignConcurrently(t *testing.T) {
	env := setup(t, billing.Options{AssignWorkers: 8})
	tuition := env.structure(t, "TUITION", true, fee.FrequencyMonthly, "1000")

	ids := make([]string, 40)
	for i := range ids {
		ids[i] = "stu-" + strings.Repeat("x", i+1)
	}

	var wg sync.WaitGroup
	results := make([]billing.AssignResult, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.svc.AssignToStudents(env.ctx, ids, billing.Assignment{FeeStructureID: tuition.ID})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	var assigned, skipped int
	for _, r := range results {
		assigned += r.Assigned
		skipped += r.Skipped
	}
	assert.Equal(t, len(ids), assigned)
	assert.Equal(t, 2*len(ids), skipped)
}

func TestService_RecordPayment_Waterfall(t *testing.T) {
	env := setup(t, billing.Options{InstallmentMode: billing.InstallmentSplit})
	tuition := env.structure(t, "TUITION", true, fee.FrequencyMonthly, "12000")
	sf := env.assignOne(t, tuition, "stu-1")

	rcpt := env.pay(t, sf, "2500")

	assert.Equal(t, billing.PaymentCompleted, rcpt.Payment.Status)
	assert.Equal(t, bursar.ID, rcpt.Payment.CollectedBy)
	assert.Regexp(t, `^RCP-20250115093000-[0-9A-F]{6}$`, rcpt.Payment.ReceiptNumber)
	assertDec(t, "2500", rcpt.StudentFee.PaidAmount)
	assertDec(t, "9500", rcpt.StudentFee.DueAmount)
	assert.Equal(t, billing.StatusPartial, rcpt.StudentFee.Status)
	require.NotNil(t, rcpt.StudentFee.LastPaymentDate)
	require.Len(t, rcpt.Allocations, 3)

	dues := env.dues(t, sf)
	require.Len(t, dues, 12)
	assert.Equal(t, billing.StatusPaid, dues[0].Status)
	assert.Equal(t, billing.StatusPaid, dues[1].Status)
	assert.Equal(t, billing.StatusPartial, dues[2].Status)
	assertDec(t, "500", dues[2].PaidAmount)
	for _, d := range dues[3:] {
		assert.Equal(t, billing.StatusPending, d.Status)
		assert.True(t, d.PaidAmount.IsZero())
	}

	t.Run("next payment tops up the partial month", func(t *testing.T) {
		rcpt := env.pay(t, sf, "600")
		require.Len(t, rcpt.Allocations, 2)
		assertDec(t, "500", rcpt.Allocations[0].Amount)
		assert.Equal(t, 3, rcpt.Allocations[0].Month)
		assertDec(t, "100", rcpt.Allocations[1].Amount)
		assert.Equal(t, 4, rcpt.Allocations[1].Month)
	})

	t.Run("receipt lookup", func(t *testing.T) {
		pd, err := env.svc.GetPaymentByReceipt(env.ctx, strings.ToLower(rcpt.Payment.ReceiptNumber))
		require.NoError(t, err)
		assert.Equal(t, rcpt.Payment.ID, pd.ID)
		assert.Len(t, pd.Allocations, 3)

		_, err = env.svc.GetPaymentByReceipt(env.ctx, "RCP-NOPE")
		assert.True(t, core.IsNotFound(err))
	})

	assert.Len(t, env.events.Events(billing.EventPaymentRecorded), 2)
}

func TestService_RecordPayment_EndToEnd(t *testing.T) {
	env := setup(t, billing.Options{})
	tuition := env.structure(t, "TUITION", true, fee.FrequencyMonthly, "5000")
	sf := env.assignOne(t, tuition, "stu-1")
	require.Len(t, env.dues(t, sf), 12)

	rcpt := env.pay(t, sf, "5000")

	assert.Equal(t, billing.StatusPaid, rcpt.StudentFee.Status)
	assert.True(t, rcpt.StudentFee.DueAmount.IsZero())
	dues := env.dues(t, sf)
	assert.Equal(t, billing.StatusPaid, dues[0].Status)
	require.NotNil(t, dues[0].PaidDate)
	for _, d := range dues[1:] {
		assert.Equal(t, billing.StatusPending, d.Status)
		assertDec(t, "5000", d.Amount)
	}
}

func TestService_RecordPayment_Reconciles(t *testing.T) {
	env := setup(t, billing.Options{InstallmentMode: billing.InstallmentSplit})
	tuition := env.structure(t, "TUITION", true, fee.FrequencyMonthly, "1200")
	sf := env.assignOne(t, tuition, "stu-1")

	env.pay(t, sf, "150.25")
	_, err := env.svc.RecordPayment(env.ctx, billing.NewPayment{
		StudentFeeID:   sf.ID,
		StudentID:      sf.StudentID,
		Amount:         dec("200"),
		DiscountAmount: dec("49.75"),
		DiscountReason: "sibling",
		PaymentMethod:  billing.MethodMobileMoney,
	}, bursar)
	require.NoError(t, err)
	env.pay(t, sf, "0.01")

	st, err := env.svc.Statement(env.ctx, sf.ID)
	require.NoError(t, err)
	require.Len(t, st.Payments, 3)
	require.NotNil(t, st.FeeStructure)

	paid, discount := decimal.Zero, decimal.Zero
	for _, p := range st.Payments {
		paid = paid.Add(p.Amount)
		discount = discount.Add(p.DiscountAmount)
	}
	assert.True(t, paid.Equal(st.StudentFee.PaidAmount))
	assert.True(t, discount.Equal(st.StudentFee.DiscountAmount))
	assert.True(t, st.StudentFee.Balanced())
	assertDec(t, "799.99", st.StudentFee.DueAmount)

	// the discount never reaches the installments
	allocated := decimal.Zero
	for _, d := range st.Installments {
		allocated = allocated.Add(d.PaidAmount)
	}
	assertDec(t, "350.26", allocated)
}

func TestService_RecordPayment_Concurrent(t *testing.T) {
	env := setup(t, billing.Options{InstallmentMode: billing.InstallmentSplit})
	tuition := env.structure(t, "TUITION", true, fee.FrequencyMonthly, "1000")
	sf := env.assignOne(t, tuition, "stu-1")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.RecordPayment(env.ctx, billing.NewPayment{
				StudentFeeID:  sf.ID,
				StudentID:     sf.StudentID,
				Amount:        dec("500"),
				PaymentMethod: billing.MethodCard,
			}, bursar)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := env.svc.GetStudentFee(env.ctx, sf.ID)
	require.NoError(t, err)
	assertDec(t, "1000", got.PaidAmount)
	assert.True(t, got.DueAmount.IsZero())
	assert.Equal(t, billing.StatusPaid, got.Status)
	for _, d := range env.dues(t, sf) {
		assert.Equal(t, billing.StatusPaid, d.Status, "month %d", d.Month)
	}
}

func TestService_RecordPayment_Overpayment(t *testing.T) {
	t.Run("allowed as credit", func(t *testing.T) {
		env := setup(t, billing.Options{})
		sf := env.assignOne(t, env.structure(t, "EXAM", false, fee.FrequencyOneTime, "100"), "stu-1")

		rcpt := env.pay(t, sf, "120")
		assertDec(t, "-20", rcpt.StudentFee.DueAmount)
		assert.Equal(t, billing.StatusPaid, rcpt.StudentFee.Status)
		assert.Empty(t, rcpt.Allocations)
		assert.True(t, rcpt.StudentFee.Balanced())
	})

	t.Run("rejected", func(t *testing.T) {
		env := setup(t, billing.Options{OverpaymentPolicy: billing.OverpaymentReject})
		sf := env.assignOne(t, env.structure(t, "EXAM", false, fee.FrequencyOneTime, "100"), "stu-1")

		_, err := env.svc.RecordPayment(env.ctx, billing.NewPayment{
			StudentFeeID:   sf.ID,
			StudentID:      sf.StudentID,
			Amount:         dec("90"),
			DiscountAmount: dec("20"),
			DiscountReason: "bursary",
			PaymentMethod:  billing.MethodCash,
		}, bursar)
		require.Error(t, err)
		assert.True(t, core.IsValidation(err))

		got, err := env.svc.GetStudentFee(env.ctx, sf.ID)
		require.NoError(t, err)
		assert.True(t, got.PaidAmount.IsZero())
	})
}

func TestService_RecordPayment_Invalid(t *testing.T) {
	env := setup(t, billing.Options{})
	sf := env.assignOne(t, env.structure(t, "EXAM", false, fee.FrequencyOneTime, "100"), "stu-1")

	valid := billing.NewPayment{StudentFeeID: sf.ID, StudentID: sf.StudentID, Amount: dec("10"), PaymentMethod: billing.MethodCash}
	tests := []struct {
		name    string
		mutate  func(np *billing.NewPayment)
		checkFn func(error) bool
	}{
		{"zero amount", func(np *billing.NewPayment) { np.Amount = decimal.Zero }, core.IsValidation},
		{"negative amount", func(np *billing.NewPayment) { np.Amount = dec("-5") }, core.IsValidation},
		{"three decimals", func(np *billing.NewPayment) { np.Amount = dec("1.005") }, core.IsValidation},
		{"negative discount", func(np *billing.NewPayment) { np.DiscountAmount = dec("-1") }, core.IsValidation},
		{"bad method", func(np *billing.NewPayment) { np.PaymentMethod = "BARTER" }, core.IsValidation},
		{"unknown student fee", func(np *billing.NewPayment) { np.StudentFeeID = "nope" }, core.IsNotFound},
		{"other student", func(np *billing.NewPayment) { np.StudentID = "stu-2" }, core.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			np := valid
			tt.mutate(&np)
			_, err := env.svc.RecordPayment(env.ctx, np, bursar)
			require.Error(t, err)
			assert.True(t, tt.checkFn(err), err.Error())
		})
	}

	got, err := env.svc.GetStudentFee(env.ctx, sf.ID)
	require.NoError(t, err)
	assert.True(t, got.PaidAmount.IsZero())
	assert.Empty(t, env.events.Events(billing.EventPaymentRecorded))
}

func TestService_RecordPayment_SideEffects(t *testing.T) {
	env := setup(t, billing.Options{})
	sf := env.assignOne(t, env.structure(t, "EXAM", false, fee.FrequencyOneTime, "100"), "stu-1")

	var genBefore int64
	_, err := env.cache.Get(env.ctx, billing.LedgerGenerationKey, &genBefore)
	require.NoError(t, err)

	rcpt, err := env.svc.RecordPayment(env.ctx, billing.NewPayment{
		StudentFeeID:  sf.ID,
		StudentID:     sf.StudentID,
		Amount:        dec("40"),
		PaymentMethod: billing.MethodBankTransfer,
		ReceiptEmail:  "Parent@Example.com",
		ReceiptName:   "Jane Parent",
	}, bursar)
	require.NoError(t, err)

	var gen int64
	found, err := env.cache.Get(env.ctx, billing.LedgerGenerationKey, &gen)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, genBefore+1, gen)

	evts := env.events.Events(billing.EventPaymentRecorded)
	require.Len(t, evts, 1)
	assert.NotEmpty(t, evts[0].ID)

	sent := env.mail.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "parent@example.com", sent[0].To[0].Address)
	assert.Contains(t, sent[0].Subject, rcpt.Payment.ReceiptNumber)
	assert.Contains(t, sent[0].TextContent, "Jane Parent")
	assert.Contains(t, sent[0].TextContent, "40.00")
	assert.Contains(t, sent[0].TextContent, "60.00")
}

// ledgerDouble wraps a real store: it fails InsertStudentFee for one student & tracks open transactions.
type ledgerDouble struct {
	billing.Store
	failFor string
	openTxs int32
}

func (s *ledgerDouble) RunInTx(ctx context.Context, fn func(tx billing.Tx) error) error {
	atomic.AddInt32(&s.openTxs, 1)
	defer atomic.AddInt32(&s.openTxs, -1)
	return s.Store.RunInTx(ctx, func(tx billing.Tx) error {
		return fn(failingTx{Tx: tx, failFor: s.failFor})
	})
}

type failingTx struct {
	billing.Tx
	failFor string
}

func (tx failingTx) InsertStudentFee(ctx context.Context, sf billing.StudentFee) (bool, error) {
	if tx.failFor != "" && sf.StudentID == tx.failFor {
		return false, errors.New("connection reset by peer")
	}
	return tx.Tx.InsertStudentFee(ctx, sf)
}

// outsideTxCatalog refuses reads made while a ledger transaction is open.
type outsideTxCatalog struct {
	billing.Catalog
	ledger *ledgerDouble
}

func (c outsideTxCatalog) GetFeeStructure(ctx context.Context, id string) (fee.FeeStructure, error) {
	if atomic.LoadInt32(&c.ledger.openTxs) > 0 {
		return fee.FeeStructure{}, errors.New("fee structure read inside a ledger transaction")
	}
	return c.Catalog.GetFeeStructure(ctx, id)
}

func (env *testEnv) serviceWith(store billing.Store, catalog billing.Catalog, opts billing.Options) *billing.Service {
	return billing.NewService(
		store,
		catalog,
		inmemdb.NewRosterRepository(env.db),
		env.events,
		env.cache,
		env.mail,
		logsvc.NewTestLogger(),
		opts,
	)
}

func TestService_AssignPartialFailure(t *testing.T) {
	env := setup(t, billing.Options{})
	tuition := env.structure(t, "TUITION", true, fee.FrequencyMonthly, "1000")
	feeRepo := inmemdb.NewFeeRepository(env.db)
	ledger := &ledgerDouble{Store: inmemdb.NewBillingStore(env.db), failFor: "stu-2"}
	svc := env.serviceWith(ledger, feeRepo, billing.Options{AssignWorkers: 3})

	res, err := svc.AssignToStudents(env.ctx, []string{"stu-1", "stu-2", "stu-3"}, billing.Assignment{FeeStructureID: tuition.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Assigned)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Results, 3)

	for _, r := range res.Results {
		t.Run(r.StudentID, func(t *testing.T) {
			if r.StudentID == "stu-2" {
				assert.Equal(t, billing.OutcomeFailed, r.Outcome)
				assert.Equal(t, "connection reset by peer", r.Error)
				assert.Empty(t, r.StudentFeeID)
				return
			}
			assert.Equal(t, billing.OutcomeAssigned, r.Outcome)
			assert.Empty(t, r.Error)
			assert.Equal(t, 12, r.Installments)

			sf, err := svc.GetStudentFee(env.ctx, r.StudentFeeID)
			require.NoError(t, err)
			assert.Equal(t, r.StudentID, sf.StudentID)
			assert.Len(t, env.dues(t, sf), 12)
		})
	}

	count, err := feeRepo.CountStudentFees(env.ctx, tuition.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	events := env.events.Events(billing.EventFeesAssigned)
	assert.Len(t, events, 1)

	t.Run("retry assigns the failed student only", func(t *testing.T) {
		res, err := env.svc.AssignToStudents(env.ctx, []string{"stu-1", "stu-2", "stu-3"}, billing.Assignment{FeeStructureID: tuition.ID})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Assigned)
		assert.Equal(t, 2, res.Skipped)
		assert.Equal(t, "stu-2", res.Results[1].StudentID)
		assert.Equal(t, billing.OutcomeAssigned, res.Results[1].Outcome)
	})
}

func TestService_RecordPaymentReadsCatalogOutsideTx(t *testing.T) {
	env := setup(t, billing.Options{})
	tuition := env.structure(t, "TUITION", true, fee.FrequencyMonthly, "1000")
	sf := env.assignOne(t, tuition, "stu-1")

	ledger := &ledgerDouble{Store: inmemdb.NewBillingStore(env.db)}
	svc := env.serviceWith(ledger, outsideTxCatalog{Catalog: inmemdb.NewFeeRepository(env.db), ledger: ledger}, billing.Options{})

	rcpt, err := svc.RecordPayment(env.ctx, billing.NewPayment{
		StudentFeeID:  sf.ID,
		StudentID:     sf.StudentID,
		Amount:        dec("2500"),
		PaymentMethod: billing.MethodCash,
	}, bursar)
	require.NoError(t, err)
	assert.Len(t, rcpt.Allocations, 3)
	assert.Equal(t, billing.StatusPaid, rcpt.StudentFee.Status)

	_, err = svc.RecordPayment(env.ctx, billing.NewPayment{
		StudentFeeID:  "unknown",
		StudentID:     sf.StudentID,
		Amount:        dec("10"),
		PaymentMethod: billing.MethodCash,
	}, bursar)
	assert.True(t, core.IsNotFound(err))
}

func TestService_ZeroAmountLedgers(t *testing.T) {
	later := core.NewDate(2025, time.April, 15)

	t.Run("zero structure", func(t *testing.T) {
		env := setup(t, billing.Options{})
		library := env.structure(t, "LIBRARY", true, fee.FrequencyMonthly, "0")
		sf := env.assignOne(t, library, "stu-1")

		assert.Equal(t, billing.StatusPaid, sf.Status)
		assert.Equal(t, billing.StatusPaid, sf.EffectiveStatus(later))
		assert.True(t, sf.Balanced())

		dues := env.dues(t, sf)
		require.Len(t, dues, 12)
		for _, d := range dues {
			assert.Equal(t, billing.StatusPaid, d.Status)
			assert.NotNil(t, d.PaidDate)
			assert.Equal(t, billing.StatusPaid, d.EffectiveStatus(later))
		}
	})

	t.Run("split small total", func(t *testing.T) {
		env := setup(t, billing.Options{InstallmentMode: billing.InstallmentSplit})
		exam := env.structure(t, "EXAM", true, fee.FrequencyMonthly, "0.05")
		sf := env.assignOne(t, exam, "stu-1")
		assert.Equal(t, billing.StatusPending, sf.Status)

		dues := env.dues(t, sf)
		require.Len(t, dues, 12)
		for _, d := range dues[:11] {
			assertDec(t, "0", d.Amount)
			assert.Equal(t, billing.StatusPaid, d.Status)
		}
		assertDec(t, "0.05", dues[11].Amount)
		assert.Equal(t, billing.StatusPending, dues[11].Status)

		rcpt := env.pay(t, sf, "0.05")
		assert.Equal(t, billing.StatusPaid, rcpt.StudentFee.Status)
		require.Len(t, rcpt.Allocations, 1)
		assert.Equal(t, 12, rcpt.Allocations[0].Month)

		for _, d := range env.dues(t, sf) {
			assert.Equal(t, billing.StatusPaid, d.EffectiveStatus(later))
		}
	})
}

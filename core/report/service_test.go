package report_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
	"github.com/trezcool/bursar/core/fee"
	"github.com/trezcool/bursar/core/principal"
	"github.com/trezcool/bursar/core/report"
	"github.com/trezcool/bursar/services/cache"
	"github.com/trezcool/bursar/services/email"
	"github.com/trezcool/bursar/services/events"
	"github.com/trezcool/bursar/services/logger"
	"github.com/trezcool/bursar/storage/database/inmem"
)

var (
	ctx    = context.Background()
	bursar = principal.Principal{ID: "bursar-1", Roles: []string{principal.RoleAdminBursar}}
)

type fixture struct {
	db         *inmemdb.DB
	billingSvc *billing.Service
	svc        *report.Service

	tuition, exam fee.FeeStructure
	ledgers       map[string]billing.StudentFee // by student id, tuition
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func setClock(t *testing.T, at time.Time) {
	billing.NowFunc = func() time.Time { return at }
	t.Cleanup(func() { billing.NowFunc = time.Now })
}

// setup builds: 3 students on a 1200 monthly tuition (split in 100s) due 2025-01-31,
// stu-1 on a 50 exam fee without due date, & a few payments.
func setup(t *testing.T) *fixture {
	t.Helper()
	setClock(t, time.Date(2025, time.January, 15, 8, 0, 0, 0, time.UTC))

	logger := logsvc.NewTestLogger()
	db := inmemdb.Open()
	feeRepo := inmemdb.NewFeeRepository(db)
	cache := cachesvc.NewMemoryCache()
	feeSvc := fee.NewService(feeRepo, logger)
	fx := &fixture{
		db: db,
		billingSvc: billing.NewService(
			inmemdb.NewBillingStore(db),
			feeRepo,
			inmemdb.NewRosterRepository(db),
			eventsvc.NewRecorder(),
			cache,
			emailsvc.NewConsoleServiceMock(core.NewTestConfig(), logger),
			logger,
			billing.Options{InstallmentMode: billing.InstallmentSplit},
		),
		svc:     report.NewService(inmemdb.NewReportRepository(db), cache, time.Minute, logger),
		ledgers: make(map[string]billing.StudentFee),
	}

	structure := func(code string, recurring bool, frequency, amount string) fee.FeeStructure {
		ft, err := feeSvc.CreateFeeType(ctx, fee.NewFeeType{Name: code, Code: code, Category: fee.CategoryAcademic, IsRecurring: recurring})
		require.NoError(t, err)
		fs, err := feeSvc.CreateFeeStructure(ctx, fee.NewFeeStructure{
			ClassID: "grade-1", FeeTypeID: ft.ID, AcademicYear: "2024-25", Amount: dec(amount), Frequency: frequency,
		})
		require.NoError(t, err)
		return fs
	}
	fx.tuition = structure("TUITION", true, fee.FrequencyMonthly, "1200")
	fx.exam = structure("EXAM", false, fee.FrequencyOneTime, "50")

	res, err := fx.billingSvc.AssignToStudents(ctx, []string{"stu-1", "stu-2", "stu-3"}, billing.Assignment{
		FeeStructureID: fx.tuition.ID,
		DueDate:        core.NewDate(2025, time.January, 31),
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.Assigned)
	for _, r := range res.Results {
		fx.ledgers[r.StudentID], err = fx.billingSvc.GetStudentFee(ctx, r.StudentFeeID)
		require.NoError(t, err)
	}
	res, err = fx.billingSvc.AssignToStudents(ctx, []string{"stu-1"}, billing.Assignment{FeeStructureID: fx.exam.ID})
	require.NoError(t, err)
	require.Equal(t, 1, res.Assigned)

	fx.pay(t, "stu-1", "1200", billing.MethodCash, "0")
	fx.pay(t, "stu-2", "250", billing.MethodMobileMoney, "0")
	setClock(t, time.Date(2025, time.January, 20, 8, 0, 0, 0, time.UTC))
	fx.pay(t, "stu-2", "100", billing.MethodCash, "20")
	return fx
}

func (fx *fixture) pay(t *testing.T, studentID, amount, method, discount string) {
	t.Helper()
	sf := fx.ledgers[studentID]
	np := billing.NewPayment{
		StudentFeeID:   sf.ID,
		StudentID:      studentID,
		Amount:         dec(amount),
		DiscountAmount: dec(discount),
		PaymentMethod:  method,
	}
	if np.DiscountAmount.IsPositive() {
		np.DiscountReason = "staff child"
	}
	_, err := fx.billingSvc.RecordPayment(ctx, np, bursar)
	require.NoError(t, err)
}

func TestService_Dues(t *testing.T) {
	fx := setup(t)

	rep, err := fx.svc.Dues(ctx, report.DuesFilter{AcademicYear: "2024-25"})
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Total)
	assert.Len(t, rep.Data, 4)
	assert.Equal(t, 1, rep.Page)
	assert.Equal(t, core.DefaultPageSize, rep.PageSize)
	assert.Equal(t, 4, rep.Summary.Count)
	assert.True(t, dec("3650").Equal(rep.Summary.TotalAmount), rep.Summary.TotalAmount.String())
	assert.True(t, dec("1550").Equal(rep.Summary.PaidAmount), rep.Summary.PaidAmount.String())
	assert.True(t, dec("20").Equal(rep.Summary.DiscountAmount))
	assert.True(t, dec("2080").Equal(rep.Summary.DueAmount), rep.Summary.DueAmount.String())

	tests := []struct {
		name     string
		filter   report.DuesFilter
		wantRows int
	}{
		{"student", report.DuesFilter{StudentID: "stu-1"}, 2},
		{"fee type", report.DuesFilter{FeeTypeID: fx.exam.FeeTypeID}, 1},
		{"class", report.DuesFilter{ClassID: "grade-2"}, 0},
		{"paid", report.DuesFilter{Status: "paid"}, 1},
		{"partial", report.DuesFilter{Status: billing.StatusPartial}, 1},
		{"pending", report.DuesFilter{Status: billing.StatusPending}, 2},
		{"other year", report.DuesFilter{AcademicYear: "2023-24"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.filter.AcademicYear == "" {
				tt.filter.AcademicYear = "2024-25"
			}
			rep, err := fx.svc.Dues(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRows, rep.Total)
			assert.Len(t, rep.Data, tt.wantRows)
			assert.Equal(t, tt.wantRows, rep.Summary.Count)
		})
	}

	t.Run("pagination", func(t *testing.T) {
		filter := report.DuesFilter{AcademicYear: "2024-25", Pagination: core.Pagination{Page: 2, PageSize: 3}}
		rep, err := fx.svc.Dues(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, 4, rep.Total)
		assert.Len(t, rep.Data, 1)
		assert.Equal(t, 4, rep.Summary.Count)

		filter.Pagination = core.Pagination{Page: 9, PageSize: 1000}
		rep, err = fx.svc.Dues(ctx, filter)
		require.NoError(t, err)
		assert.Empty(t, rep.Data)
		assert.Equal(t, core.MaxPageSize, rep.PageSize)
	})

	t.Run("overdue", func(t *testing.T) {
		setClock(t, time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC))

		rep, err := fx.svc.Dues(ctx, report.DuesFilter{AcademicYear: "2024-25", Status: billing.StatusOverdue})
		require.NoError(t, err)
		require.Equal(t, 2, rep.Total) // stu-2 & stu-3 tuition; the exam fee has no due date
		for _, row := range rep.Data {
			assert.Equal(t, billing.StatusOverdue, row.EffectiveStatus)
			assert.NotEqual(t, billing.StatusOverdue, row.Status)
			assert.Equal(t, "TUITION", row.FeeTypeCode)
		}
	})
}

func TestService_MonthlyBreakdown(t *testing.T) {
	fx := setup(t)

	rep, err := fx.svc.MonthlyBreakdown(ctx, report.MonthlyFilter{})
	require.NoError(t, err)
	assert.Len(t, rep.Data, 36)
	require.Len(t, rep.Months, 12)

	jan := rep.Months[0]
	assert.Equal(t, 2025, jan.Year)
	assert.Equal(t, 1, jan.Month)
	assert.Equal(t, 3, jan.Count)
	assert.Equal(t, 2, jan.PaidCount) // stu-1 & stu-2
	assert.True(t, dec("300").Equal(jan.Amount))
	assert.True(t, dec("200").Equal(jan.PaidAmount))
	assert.True(t, dec("100").Equal(jan.Outstanding))

	feb := rep.Months[1]
	assert.Equal(t, 2, feb.PaidCount)
	assert.True(t, dec("200").Equal(feb.PaidAmount))

	mar := rep.Months[2]
	assert.Equal(t, 2, mar.PaidCount)
	assert.True(t, dec("200").Equal(mar.PaidAmount), mar.PaidAmount.String())

	apr := rep.Months[3]
	assert.Equal(t, 1, apr.PaidCount)
	assert.True(t, dec("150").Equal(apr.PaidAmount), apr.PaidAmount.String())
	assert.True(t, dec("150").Equal(apr.Outstanding), apr.Outstanding.String())

	t.Run("filters", func(t *testing.T) {
		rep, err := fx.svc.MonthlyBreakdown(ctx, report.MonthlyFilter{StudentID: "stu-2", Status: "partial"})
		require.NoError(t, err)
		require.Len(t, rep.Data, 1)
		assert.Equal(t, 4, rep.Data[0].Month)
		assert.Equal(t, "TUITION", rep.Data[0].FeeTypeCode)

		rep, err = fx.svc.MonthlyBreakdown(ctx, report.MonthlyFilter{Year: 2024})
		require.NoError(t, err)
		assert.Empty(t, rep.Data)
		assert.Empty(t, rep.Months)
	})

	t.Run("overdue installments", func(t *testing.T) {
		setClock(t, time.Date(2025, time.February, 11, 0, 0, 0, 0, time.UTC))
		rep, err := fx.svc.MonthlyBreakdown(ctx, report.MonthlyFilter{Status: billing.StatusOverdue})
		require.NoError(t, err)
		// stu-3: january & february
		require.Len(t, rep.Data, 2)
		for _, row := range rep.Data {
			assert.Equal(t, "stu-3", row.StudentID)
			assert.Equal(t, billing.StatusOverdue, row.EffectiveStatus)
		}
	})
}

func TestService_Collections(t *testing.T) {
	fx := setup(t)

	rep, err := fx.svc.Collections(ctx, report.CollectionsFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Total)
	require.Len(t, rep.Data, 3)
	assert.True(t, dec("1550").Equal(rep.TotalAmount))
	assert.True(t, dec("20").Equal(rep.TotalDiscount))
	assert.True(t, rep.Data[0].PaidAt.After(rep.Data[2].PaidAt), "newest first")

	day := func(d int) core.Date { return core.NewDate(2025, time.January, d) }
	tests := []struct {
		name      string
		filter    report.CollectionsFilter
		wantCount int
		wantTotal string
	}{
		{"student", report.CollectionsFilter{StudentID: "stu-2"}, 2, "350"},
		{"method", report.CollectionsFilter{PaymentMethod: "cash"}, 2, "1300"},
		{"from", report.CollectionsFilter{DateFrom: day(16)}, 1, "100"},
		{"to is inclusive", report.CollectionsFilter{DateTo: day(15)}, 2, "1450"},
		{"range", report.CollectionsFilter{DateFrom: day(15), DateTo: day(20)}, 3, "1550"},
		{"empty range", report.CollectionsFilter{DateFrom: day(16), DateTo: day(19)}, 0, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := fx.svc.Collections(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCount, rep.Total)
			assert.Len(t, rep.Data, tt.wantCount)
			assert.True(t, dec(tt.wantTotal).Equal(rep.TotalAmount), rep.TotalAmount.String())
		})
	}
}

func TestService_Caching(t *testing.T) {
	fx := setup(t)
	filter := report.DuesFilter{AcademicYear: "2024-25", StudentID: "stu-3"}

	rep, err := fx.svc.Dues(ctx, filter)
	require.NoError(t, err)
	require.Len(t, rep.Data, 1)
	assert.True(t, rep.Data[0].PaidAmount.IsZero())

	// a write that bypasses the engine does not invalidate the cache
	store := inmemdb.NewBillingStore(fx.db)
	err = store.RunInTx(ctx, func(tx billing.Tx) error {
		sf, err := tx.LockStudentFee(ctx, fx.ledgers["stu-3"].ID)
		if err != nil {
			return err
		}
		sf.PaidAmount = dec("1")
		sf.DueAmount = sf.TotalAmount.Sub(sf.PaidAmount)
		return tx.UpdateStudentFee(ctx, sf)
	})
	require.NoError(t, err)

	rep, err = fx.svc.Dues(ctx, filter)
	require.NoError(t, err)
	assert.True(t, rep.Data[0].PaidAmount.IsZero(), "served from cache")

	// an engine write does
	fx.pay(t, "stu-3", "10", billing.MethodCash, "0")
	rep, err = fx.svc.Dues(ctx, filter)
	require.NoError(t, err)
	assert.True(t, dec("11").Equal(rep.Data[0].PaidAmount), rep.Data[0].PaidAmount.String())
}

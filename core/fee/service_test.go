package fee_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
	"github.com/trezcool/bursar/core/fee"
	"github.com/trezcool/bursar/services/cache"
	"github.com/trezcool/bursar/services/email"
	"github.com/trezcool/bursar/services/events"
	"github.com/trezcool/bursar/services/logger"
	"github.com/trezcool/bursar/storage/database/inmem"
)

func setup(t *testing.T) (*fee.Service, *billing.Service) {
	t.Helper()
	logger := logsvc.NewTestLogger()
	db := inmemdb.Open()
	repo := inmemdb.NewFeeRepository(db)
	billingSvc := billing.NewService(
		inmemdb.NewBillingStore(db),
		repo,
		inmemdb.NewRosterRepository(db),
		eventsvc.NewRecorder(),
		cachesvc.NopCache{},
		emailsvc.NewConsoleServiceMock(core.NewTestConfig(), logger),
		logger,
		billing.Options{},
	)
	return fee.NewService(repo, logger), billingSvc
}

func conflictField(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	var cerr *core.ConflictError
	require.True(t, errors.As(err, &cerr), "want a conflict error, got %v", err)
	require.NotEmpty(t, cerr.Fields)
	return cerr.Fields[0].Field
}

func TestService_FeeTypes(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	ft, err := svc.CreateFeeType(ctx, fee.NewFeeType{Name: "Tuition", Code: "tuition", Category: fee.CategoryAcademic, IsRecurring: true})
	require.NoError(t, err)
	assert.Equal(t, "TUITION", ft.Code)
	assert.NotEmpty(t, ft.ID)

	_, err = svc.CreateFeeType(ctx, fee.NewFeeType{Name: "Bus", Code: "BUS", Category: fee.CategoryTransport})
	require.NoError(t, err)

	t.Run("duplicate code", func(t *testing.T) {
		_, err := svc.CreateFeeType(ctx, fee.NewFeeType{Name: "Tuition 2", Code: " Tuition ", Category: fee.CategoryAcademic})
		assert.Equal(t, "code", conflictField(t, err))
	})

	t.Run("get", func(t *testing.T) {
		got, err := svc.GetFeeType(ctx, ft.ID)
		require.NoError(t, err)
		assert.Equal(t, ft, got)

		_, err = svc.GetFeeType(ctx, "nope")
		assert.True(t, core.IsNotFound(err))
	})

	recurring := true
	tests := []struct {
		name   string
		filter fee.TypeFilter
		want   []string
	}{
		{"all", fee.TypeFilter{}, []string{"BUS", "TUITION"}},
		{"category", fee.TypeFilter{Category: "transport"}, []string{"BUS"}},
		{"recurring", fee.TypeFilter{IsRecurring: &recurring}, []string{"TUITION"}},
		{"search", fee.TypeFilter{Search: "TUIT"}, []string{"TUITION"}},
		{"no match", fee.TypeFilter{Search: "library"}, []string{}},
	}
	for _, tt := range tests {
		t.Run("query "+tt.name, func(t *testing.T) {
			types, err := svc.QueryFeeTypes(ctx, tt.filter)
			require.NoError(t, err)
			codes := make([]string, 0, len(types))
			for _, ft := range types {
				codes = append(codes, ft.Code)
			}
			assert.Equal(t, tt.want, codes)
		})
	}
}

func TestService_FeeStructures(t *testing.T) {
	ctx := context.Background()
	svc, billingSvc := setup(t)

	ft, err := svc.CreateFeeType(ctx, fee.NewFeeType{Name: "Tuition", Code: "TUITION", Category: fee.CategoryAcademic, IsRecurring: true})
	require.NoError(t, err)

	newStructure := fee.NewFeeStructure{
		ClassID:      "grade-1",
		FeeTypeID:    ft.ID,
		AcademicYear: "2024-25",
		Amount:       decimal.NewFromInt(5000),
		Frequency:    fee.FrequencyMonthly,
	}
	fs, err := svc.CreateFeeStructure(ctx, newStructure)
	require.NoError(t, err)
	require.NotNil(t, fs.FeeType)
	assert.Equal(t, "TUITION", fs.FeeType.Code)

	t.Run("create errors", func(t *testing.T) {
		_, err := svc.CreateFeeStructure(ctx, newStructure)
		assert.Equal(t, "fee_type_id", conflictField(t, err))

		unknown := newStructure
		unknown.FeeTypeID = "nope"
		_, err = svc.CreateFeeStructure(ctx, unknown)
		assert.True(t, core.IsNotFound(err))
	})

	t.Run("query", func(t *testing.T) {
		other := newStructure
		other.ClassID = "grade-2"
		_, err := svc.CreateFeeStructure(ctx, other)
		require.NoError(t, err)

		all, err := svc.QueryFeeStructures(ctx, fee.StructureFilter{AcademicYear: "2024-25"})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		one, err := svc.QueryFeeStructures(ctx, fee.StructureFilter{ClassID: "grade-2", Frequency: "monthly"})
		require.NoError(t, err)
		require.Len(t, one, 1)
		assert.Equal(t, "grade-2", one[0].ClassID)
		assert.NotNil(t, one[0].FeeType)
	})

	t.Run("update while free", func(t *testing.T) {
		updated, err := svc.UpdateFeeStructure(ctx, fs, fee.UpdateFeeStructure{
			ClassID:      fs.ClassID,
			FeeTypeID:    fs.FeeTypeID,
			AcademicYear: fs.AcademicYear,
			Amount:       decimal.NewNullDecimal(decimal.NewFromInt(5500)),
			Frequency:    fs.Frequency,
		})
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(5500).Equal(updated.Amount))
		require.NotNil(t, updated.FeeType)
		fs = updated
	})

	res, err := billingSvc.AssignToStudents(ctx, []string{"stu-1"}, billing.Assignment{FeeStructureID: fs.ID})
	require.NoError(t, err)
	require.Equal(t, 1, res.Assigned)

	t.Run("frozen once assigned", func(t *testing.T) {
		frozen, err := svc.IsFrozen(ctx, fs.ID)
		require.NoError(t, err)
		assert.True(t, frozen)

		_, err = svc.UpdateFeeStructure(ctx, fs, fee.UpdateFeeStructure{
			ClassID:      fs.ClassID,
			FeeTypeID:    fs.FeeTypeID,
			AcademicYear: fs.AcademicYear,
			Amount:       decimal.NewNullDecimal(decimal.NewFromInt(6000)),
			Frequency:    fs.Frequency,
		})
		assert.Equal(t, "amount", conflictField(t, err))

		desc := "term 1 to 3"
		updated, err := svc.UpdateFeeStructure(ctx, fs, fee.UpdateFeeStructure{
			ClassID:      fs.ClassID,
			FeeTypeID:    fs.FeeTypeID,
			AcademicYear: fs.AcademicYear,
			Amount:       decimal.NewNullDecimal(fs.Amount),
			Frequency:    fs.Frequency,
			Description:  &desc,
		})
		require.NoError(t, err)
		assert.Equal(t, desc, updated.Description)

		// the ledger keeps its snapshot
		sf, err := billingSvc.GetStudentFee(ctx, res.Results[0].StudentFeeID)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(5500).Equal(sf.TotalAmount))
	})

	t.Run("delete", func(t *testing.T) {
		err := svc.DeleteFeeStructure(ctx, fs.ID)
		assert.Equal(t, "id", conflictField(t, err))

		free := newStructure
		free.AcademicYear = "2025-26"
		unused, err := svc.CreateFeeStructure(ctx, free)
		require.NoError(t, err)
		require.NoError(t, svc.DeleteFeeStructure(ctx, unused.ID))

		_, err = svc.GetFeeStructure(ctx, unused.ID)
		assert.True(t, core.IsNotFound(err))
		assert.True(t, core.IsNotFound(svc.DeleteFeeStructure(ctx, unused.ID)))
	})
}

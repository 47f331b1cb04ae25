package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/fee"
)

var (
	// errors
	ErrStudentFeeNotFound = core.NewNotFoundError("student fee")
	ErrPaymentNotFound    = core.NewNotFoundError("payment")
	ErrNoStudents         = core.NewNotFoundError("students")

	ErrStudentMismatch = errors.New("student does not match the student fee")
	ErrOverpayment     = errors.New("amount exceeds the outstanding balance")
	ErrYearMismatch    = errors.New("academic year does not match the fee structure")

	errAlreadyAssigned = errors.New("already assigned")
)

// Events
const (
	EventFeesAssigned    = "fees.assigned"
	EventPaymentRecorded = "payment.recorded"
)

// LedgerGenerationKey is bumped after every committed ledger write; report caches key on it.
const LedgerGenerationKey = "ledger:generation"

// Overpayment policies
const (
	OverpaymentAllow  = "allow" // the due goes negative & is carried as a credit
	OverpaymentReject = "reject"
)

var NowFunc = time.Now // mockable

type Options struct {
	InstallmentMode   string
	OverpaymentPolicy string
	MonthlyDueDay     int
	InstallmentCount  int
	AssignWorkers     int
}

func OptionsFromConfig(conf *core.Config) Options {
	return Options{
		InstallmentMode:   conf.Billing.InstallmentMode,
		OverpaymentPolicy: conf.Billing.OverpaymentPolicy,
		MonthlyDueDay:     conf.Billing.MonthlyDueDay,
		InstallmentCount:  conf.Billing.InstallmentCount,
		AssignWorkers:     conf.Billing.AssignWorkers,
	}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.InstallmentMode != InstallmentSplit {
		o.InstallmentMode = InstallmentFlat
	}
	if o.OverpaymentPolicy != OverpaymentReject {
		o.OverpaymentPolicy = OverpaymentAllow
	}
	if o.MonthlyDueDay < 1 || o.MonthlyDueDay > 31 {
		o.MonthlyDueDay = 10
	}
	if o.InstallmentCount < 1 {
		o.InstallmentCount = 12
	}
	if o.AssignWorkers < 1 {
		o.AssignWorkers = 1
	}
	return o
}

type Service struct {
	store   Store
	catalog Catalog
	roster  Roster
	events  core.EventPublisher
	cache   core.Cache
	mailSvc core.EmailService
	logger  core.Logger
	opts    Options
}

func NewService(
	store Store,
	catalog Catalog,
	roster Roster,
	events core.EventPublisher,
	cache core.Cache,
	mailSvc core.EmailService,
	logger core.Logger,
	opts Options,
) *Service {
	return &Service{
		store:   store,
		catalog: catalog,
		roster:  roster,
		events:  events,
		cache:   cache,
		mailSvc: mailSvc,
		logger:  logger,
		opts:    opts.withDefaults(),
	}
}

// afterCommit invalidates report caches & publishes events. Failures are logged only.
func (svc *Service) afterCommit(ctx context.Context, events ...core.Event) {
	ctx = context.WithoutCancel(ctx)
	if _, err := svc.cache.Incr(ctx, LedgerGenerationKey); err != nil {
		svc.logger.Warn(fmt.Sprintf("bumping ledger generation: %v", err), err)
	}
	if err := svc.events.Publish(ctx, events...); err != nil {
		svc.logger.Error(fmt.Sprintf("publishing events: %v", err), err)
	}
}

func (svc *Service) GetStudentFee(ctx context.Context, id string) (StudentFee, error) {
	return svc.store.GetStudentFee(ctx, id)
}

// Statement returns a StudentFee with its installments & payments.
func (svc *Service) Statement(ctx context.Context, studentFeeID string) (Statement, error) {
	sf, err := svc.store.GetStudentFee(ctx, studentFeeID)
	if err != nil {
		return Statement{}, pkgerrors.Wrap(err, "getting student fee")
	}
	st := Statement{StudentFee: sf}

	fs, err := svc.catalog.GetFeeStructure(ctx, sf.FeeStructureID)
	switch {
	case err == nil:
		st.FeeStructure = &fs
	case pkgerrors.Cause(err) != fee.ErrFeeStructureNotFound:
		return Statement{}, pkgerrors.Wrap(err, "getting fee structure")
	}

	if st.Installments, err = svc.store.QueryMonthlyDues(ctx, sf.ID); err != nil {
		return Statement{}, pkgerrors.Wrap(err, "querying monthly dues")
	}
	if st.Payments, err = svc.store.QueryPayments(ctx, sf.ID); err != nil {
		return Statement{}, pkgerrors.Wrap(err, "querying payments")
	}
	if st.Installments == nil {
		st.Installments = []MonthlyDue{}
	}
	if st.Payments == nil {
		st.Payments = []Payment{}
	}
	return st, nil
}

func (svc *Service) GetPaymentByReceipt(ctx context.Context, receiptNumber string) (PaymentDetail, error) {
	p, err := svc.store.GetPaymentByReceipt(ctx, core.CleanCode(receiptNumber))
	if err != nil {
		return PaymentDetail{}, pkgerrors.Wrap(err, "getting payment")
	}
	allocs, err := svc.store.QueryAllocations(ctx, p.ID)
	if err != nil {
		return PaymentDetail{}, pkgerrors.Wrap(err, "querying allocations")
	}
	if allocs == nil {
		allocs = []Allocation{}
	}
	return PaymentDetail{Payment: p, Allocations: allocs}, nil
}

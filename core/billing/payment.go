package billing

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/principal"
)

const receiptPrefix = "RCP"

type paymentRecorded struct {
	PaymentID      string          `json:"payment_id"`
	ReceiptNumber  string          `json:"receipt_number"`
	StudentFeeID   string          `json:"student_fee_id"`
	StudentID      string          `json:"student_id"`
	Amount         decimal.Decimal `json:"amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	DueAmount      decimal.Decimal `json:"due_amount"`
	Status         string          `json:"status"`
	Installments   int             `json:"installments"`
}

// newReceiptNumber returns e.g. RCP-20250110093015-4F9A1C.
func newReceiptNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
	return fmt.Sprintf("%s-%s-%s", receiptPrefix, at.UTC().Format("20060102150405"), suffix)
}

// RecordPayment records a payment against a StudentFee, updates its balances & cascades the amount
// over the outstanding monthly installments, all in one transaction.
func (svc *Service) RecordPayment(ctx context.Context, np NewPayment, collectedBy principal.Principal) (Receipt, error) {
	np.clean()
	if err := np.check(); err != nil {
		return Receipt{}, err
	}

	// Read before the transaction: a payment holds at most one pool connection.
	// The fee type cannot change once a ledger references the structure.
	current, err := svc.store.GetStudentFee(ctx, np.StudentFeeID)
	if err != nil {
		return Receipt{}, errors.Wrap(err, "getting student fee")
	}
	fs, err := svc.catalog.GetFeeStructure(ctx, current.FeeStructureID)
	if err != nil {
		return Receipt{}, errors.Wrap(err, "getting fee structure")
	}
	recurring := fs.FeeType != nil && fs.FeeType.IsRecurring

	var rcpt Receipt
	err = svc.store.RunInTx(ctx, func(tx Tx) error {
		sf, err := tx.LockStudentFee(ctx, np.StudentFeeID)
		if err != nil {
			return errors.Wrap(err, "locking student fee")
		}
		if sf.StudentID != np.StudentID {
			return core.NewValidationError(
				ErrStudentMismatch,
				core.FieldError{Field: "student_id", Error: ErrStudentMismatch.Error()},
			)
		}
		if svc.opts.OverpaymentPolicy == OverpaymentReject && np.Amount.Add(np.DiscountAmount).GreaterThan(sf.DueAmount) {
			return core.NewValidationError(
				ErrOverpayment,
				core.FieldError{Field: "amount", Error: ErrOverpayment.Error()},
			)
		}

		now := NowFunc().UTC()
		pmt := Payment{
			ID:             uuid.New().String(),
			ReceiptNumber:  newReceiptNumber(now),
			StudentFeeID:   sf.ID,
			StudentID:      sf.StudentID,
			Amount:         np.Amount,
			DiscountAmount: np.DiscountAmount,
			DiscountReason: np.DiscountReason,
			PaymentMethod:  np.PaymentMethod,
			TransactionID:  np.TransactionID,
			Remarks:        np.Remarks,
			Status:         PaymentCompleted,
			CollectedBy:    collectedBy.ID,
			PaidAt:         now,
			CreatedAt:      now,
		}
		if err = tx.InsertPayment(ctx, pmt); err != nil {
			return errors.Wrap(err, "inserting payment")
		}

		sf.applyPayment(np.Amount, np.DiscountAmount, now)
		if err = tx.UpdateStudentFee(ctx, sf); err != nil {
			return errors.Wrap(err, "updating student fee")
		}

		allocs := []Allocation{}
		if recurring {
			dues, err := tx.LockOutstandingDues(ctx, sf.ID)
			if err != nil {
				return errors.Wrap(err, "locking monthly dues")
			}
			updated, allocated, _ := Allocate(pmt.ID, dues, np.Amount, now)
			for _, due := range updated {
				if err = tx.UpdateMonthlyDue(ctx, due); err != nil {
					return errors.Wrap(err, "updating monthly due")
				}
			}
			if len(allocated) > 0 {
				if err = tx.InsertAllocations(ctx, allocated); err != nil {
					return errors.Wrap(err, "inserting allocations")
				}
				allocs = allocated
			}
		}

		rcpt = Receipt{Payment: pmt, StudentFee: sf, Allocations: allocs}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	svc.afterCommit(ctx, core.NewEvent(EventPaymentRecorded, paymentRecorded{
		PaymentID:      rcpt.Payment.ID,
		ReceiptNumber:  rcpt.Payment.ReceiptNumber,
		StudentFeeID:   rcpt.StudentFee.ID,
		StudentID:      rcpt.StudentFee.StudentID,
		Amount:         rcpt.Payment.Amount,
		DiscountAmount: rcpt.Payment.DiscountAmount,
		DueAmount:      rcpt.StudentFee.DueAmount,
		Status:         rcpt.StudentFee.Status,
		Installments:   len(rcpt.Allocations),
	}))

	if np.ReceiptEmail != "" {
		svc.mailSvc.SendMessages(receiptMessage(rcpt, mail.Address{Name: np.ReceiptName, Address: np.ReceiptEmail}))
	}
	return rcpt, nil
}

type receiptData struct {
	Name          string
	ReceiptNumber string
	Amount        string
	HasDiscount   bool
	Discount      string
	Method        string
	PaidAt        string
	Balance       string
	Months        []string
}

func receiptMessage(rcpt Receipt, to mail.Address) *core.EmailMessage {
	name := to.Name
	if name == "" {
		name = rcpt.StudentFee.StudentID
	}
	months := make([]string, 0, len(rcpt.Allocations))
	for _, a := range rcpt.Allocations {
		d := MonthlyDue{Month: a.Month, Year: a.Year}
		months = append(months, fmt.Sprintf("%s: %s", d.Period(), a.Amount.StringFixed(2)))
	}
	return &core.EmailMessage{
		To:           []mail.Address{to},
		Subject:      "Payment receipt " + rcpt.Payment.ReceiptNumber,
		TemplateName: "payment_receipt",
		TemplateData: receiptData{
			Name:          name,
			ReceiptNumber: rcpt.Payment.ReceiptNumber,
			Amount:        rcpt.Payment.Amount.StringFixed(2),
			HasDiscount:   rcpt.Payment.DiscountAmount.IsPositive(),
			Discount:      rcpt.Payment.DiscountAmount.StringFixed(2),
			Method:        strings.ReplaceAll(rcpt.Payment.PaymentMethod, "_", " "),
			PaidAt:        rcpt.Payment.PaidAt.Format("02 Jan 2006 15:04 MST"),
			Balance:       rcpt.StudentFee.DueAmount.StringFixed(2),
			Months:        months,
		},
	}
}

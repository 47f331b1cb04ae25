package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/bursar/core/billing"
	"github.com/trezcool/bursar/core/principal"
)

type billingApi struct {
	svc      *billing.Service
	validate *validator.Validate
}

func registerBillingAPI(g *echo.Group, svc *billing.Service, validate *validator.Validate) {
	api := billingApi{
		svc:      svc,
		validate: validate,
	}
	view := requireCapability(principal.CapViewLedgers)

	// list endpoints of these resources are the reports (see registerReportAPI)
	g.POST("/student-fees/assign", api.assign, requireCapability(principal.CapAssignFees))
	g.GET("/student-fees/:id", api.statement, view)
	g.POST("/payments", api.recordPayment, requireCapability(principal.CapRecordPayments))
	g.GET("/payments/receipts/:receipt", api.retrieveReceipt, view)
}

// Handlers

func (api *billingApi) assign(ctx echo.Context) error {
	var data billing.AssignFees
	if err := bindValid(ctx, &data, api.validate, "AssignFees"); err != nil {
		return err
	}

	var (
		res billing.AssignResult
		err error
	)
	if data.ClassID != "" {
		res, err = api.svc.AssignToClass(ctx.Request().Context(), data.ClassID, data.Assignment())
	} else {
		res, err = api.svc.AssignToStudents(ctx.Request().Context(), data.StudentIDs, data.Assignment())
	}
	if err != nil {
		return errors.Wrap(err, "assigning fees")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *billingApi) statement(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	st, err := api.svc.Statement(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting statement")
	}
	if !canView(p, st.StudentFee.StudentID) {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *billingApi) recordPayment(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	var data billing.NewPayment
	if err = bindValid(ctx, &data, api.validate, "NewPayment"); err != nil {
		return err
	}

	rcpt, err := api.svc.RecordPayment(ctx.Request().Context(), data, p)
	if err != nil {
		return errors.Wrap(err, "recording payment")
	}
	return ctx.JSON(http.StatusCreated, rcpt)
}

func (api *billingApi) retrieveReceipt(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	pd, err := api.svc.GetPaymentByReceipt(ctx.Request().Context(), ctx.Param("receipt"))
	if err != nil {
		return errors.Wrap(err, "getting payment by receipt")
	}
	if !canView(p, pd.StudentID) {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, pd)
}

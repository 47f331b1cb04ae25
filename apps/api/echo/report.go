package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/bursar/core/principal"
	"github.com/trezcool/bursar/core/report"
)

type reportApi struct {
	svc      *report.Service
	validate *validator.Validate
}

func registerReportAPI(g *echo.Group, svc *report.Service, validate *validator.Validate) {
	api := reportApi{
		svc:      svc,
		validate: validate,
	}
	view := requireCapability(principal.CapViewLedgers)

	g.GET("/student-fees", api.dues, view)
	g.GET("/monthly-dues", api.monthly, view)
	g.GET("/payments", api.collections, view)
}

// Handlers

func (api *reportApi) dues(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	var filter report.DuesFilter
	if err = bindValid(ctx, &filter, api.validate, "DuesFilter"); err != nil {
		return err
	}
	filter.StudentID = scopedStudentID(p, filter.StudentID)

	rep, err := api.svc.Dues(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "getting dues report")
	}
	return ctx.JSON(http.StatusOK, rep)
}

func (api *reportApi) monthly(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	var filter report.MonthlyFilter
	if err = bindValid(ctx, &filter, api.validate, "MonthlyFilter"); err != nil {
		return err
	}
	filter.StudentID = scopedStudentID(p, filter.StudentID)

	rep, err := api.svc.MonthlyBreakdown(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "getting monthly breakdown")
	}
	return ctx.JSON(http.StatusOK, rep)
}

func (api *reportApi) collections(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	var filter report.CollectionsFilter
	if err = bindValid(ctx, &filter, api.validate, "CollectionsFilter"); err != nil {
		return err
	}
	filter.StudentID = scopedStudentID(p, filter.StudentID)

	rep, err := api.svc.Collections(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "getting collections report")
	}
	return ctx.JSON(http.StatusOK, rep)
}

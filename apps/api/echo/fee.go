package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/bursar/core/fee"
	"github.com/trezcool/bursar/core/principal"
)

type feeApi struct {
	svc      *fee.Service
	validate *validator.Validate
}

func registerFeeAPI(g *echo.Group, svc *fee.Service, validate *validator.Validate) {
	api := feeApi{
		svc:      svc,
		validate: validate,
	}
	view := requireCapability(principal.CapViewLedgers)
	manage := requireCapability(principal.CapManageCatalog)

	tg := g.Group("/fee-types")
	tg.POST("", api.createType, manage)
	tg.GET("", api.queryTypes, view)
	tg.GET("/:id", api.retrieveType, view)

	sg := g.Group("/fee-structures")
	sg.POST("", api.createStructure, manage)
	sg.GET("", api.queryStructures, view)
	sg.GET("/:id", api.retrieveStructure, view)
	sg.PUT("/:id", api.updateStructure, manage)
	sg.DELETE("/:id", api.destroyStructure, manage)
}

// Handlers

func (api *feeApi) createType(ctx echo.Context) error {
	var data fee.NewFeeType
	if err := bindValid(ctx, &data, api.validate, "NewFeeType"); err != nil {
		return err
	}

	ft, err := api.svc.CreateFeeType(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating fee type")
	}
	return ctx.JSON(http.StatusCreated, ft)
}

func (api *feeApi) queryTypes(ctx echo.Context) error {
	var filter fee.TypeFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to TypeFilter")
	}

	fts, err := api.svc.QueryFeeTypes(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying fee types")
	}
	if fts == nil {
		fts = []fee.FeeType{}
	}
	return ctx.JSON(http.StatusOK, fts)
}

func (api *feeApi) retrieveType(ctx echo.Context) error {
	ft, err := api.svc.GetFeeType(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting fee type")
	}
	return ctx.JSON(http.StatusOK, ft)
}

func (api *feeApi) createStructure(ctx echo.Context) error {
	var data fee.NewFeeStructure
	if err := bindValid(ctx, &data, api.validate, "NewFeeStructure"); err != nil {
		return err
	}

	fs, err := api.svc.CreateFeeStructure(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating fee structure")
	}
	return ctx.JSON(http.StatusCreated, fs)
}

func (api *feeApi) queryStructures(ctx echo.Context) error {
	var filter fee.StructureFilter
	if err := ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to StructureFilter")
	}

	fss, err := api.svc.QueryFeeStructures(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying fee structures")
	}
	if fss == nil {
		fss = []fee.FeeStructure{}
	}
	return ctx.JSON(http.StatusOK, fss)
}

func (api *feeApi) retrieveStructure(ctx echo.Context) error {
	fs, err := api.svc.GetFeeStructure(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting fee structure")
	}
	return ctx.JSON(http.StatusOK, fs)
}

func (api *feeApi) updateStructure(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	orig, err := api.svc.GetFeeStructure(rctx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting fee structure")
	}

	var data fee.UpdateFeeStructure
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateFeeStructure")
	}
	if err = data.Validate(api.validate, orig); err != nil {
		return err
	}

	fs, err := api.svc.UpdateFeeStructure(rctx, orig, data)
	if err != nil {
		return errors.Wrap(err, "updating fee structure")
	}
	return ctx.JSON(http.StatusOK, fs)
}

func (api *feeApi) destroyStructure(ctx echo.Context) error {
	if err := api.svc.DeleteFeeStructure(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting fee structure")
	}
	return ctx.NoContent(http.StatusNoContent)
}

package echoapi

import (
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type validatable interface {
	Validate(validate *validator.Validate) error
}

// bindValid binds the request (path, query or JSON body) to data & validates it.
func bindValid(ctx echo.Context, data validatable, validate *validator.Validate, name string) error {
	if err := ctx.Bind(data); err != nil {
		return errors.Wrap(err, "binding to "+name)
	}
	return data.Validate(validate)
}

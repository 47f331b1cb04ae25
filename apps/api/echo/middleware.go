package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/bursar/core/principal"
)

// requireCapability lets the request through when the principal holds c.
func requireCapability(c principal.Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			p, err := getContextPrincipal(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context principal")
			}
			if p.Can(c) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// scopedStudentID returns the student id a read query is restricted to:
// the requested one for principals who may view every ledger, their own id otherwise.
func scopedStudentID(p principal.Principal, requested string) string {
	if p.Can(principal.CapViewAll) {
		return requested
	}
	return p.ID
}

// canView reports whether p may read the ledger of studentID.
func canView(p principal.Principal, studentID string) bool {
	return p.Can(principal.CapViewAll) || p.ID == studentID
}

package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/nithadya/classsync/core/user"
)

// capabilityMiddleware lets through callers holding any of capabilities.
// Services check capabilities again.
func capabilityMiddleware(capabilities ...user.Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			p, err := getContextPrincipal(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context principal")
			}
			for _, c := range capabilities {
				if p.Can(c) {
					return next(ctx)
				}
			}
			return errHttpForbidden
		}
	}
}

// ctxUserOrManagerMiddleware loads the :id user into the context as "object".
// Callers only see themselves unless they manage users; anything else is a 404.
func ctxUserOrManagerMiddleware(svc *user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			p, err := getContextPrincipal(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context principal")
			}

			if p.IsSelf(ctx.Param("id")) || p.Can(user.CapManageUsers) {
				if usr, err := svc.GetByID(ctx.Request().Context(), ctx.Param("id")); err == nil {
					ctx.Set("object", usr)
					return next(ctx)
				} else if errors.Cause(err) != user.ErrNotFound {
					return errors.Wrap(err, "finding user by ID")
				}
			}
			return errHttpNotFound
		}
	}
}

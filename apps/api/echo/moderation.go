package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/nithadya/classsync/core/moderation"
	"github.com/nithadya/classsync/core/user"
)

type moderationApi struct {
	svc      *moderation.Service
	validate *validator.Validate
}

func registerModerationAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *moderation.Service, validate *validator.Validate) {
	api := moderationApi{
		svc:      svc,
		validate: validate,
	}

	mg := g.Group("/moderation", jwt)
	mg.POST("/reports", api.report)

	fg := mg.Group("/flagged", capabilityMiddleware(user.CapModerate))
	fg.GET("", api.query)
	fg.PUT("/:id", api.resolve)
}

func (api *moderationApi) report(ctx echo.Context) error {
	var data moderation.NewReport
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewReport")
	}
	reporter, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	fc, err := api.svc.Report(ctx.Request().Context(), reporter, data, api.validate)
	if err != nil {
		return errors.Wrap(err, "reporting content")
	}
	return ctx.JSON(http.StatusCreated, fc)
}

func (api *moderationApi) query(ctx echo.Context) error {
	var filter moderation.QueryFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []moderation.FlaggedContent{})
	}
	moderator, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	flags, err := api.svc.Query(ctx.Request().Context(), moderator, filter)
	if err != nil {
		return errors.Wrap(err, "querying flagged content")
	}
	if flags == nil {
		flags = []moderation.FlaggedContent{}
	}
	return ctx.JSON(http.StatusOK, flags)
}

func (api *moderationApi) resolve(ctx echo.Context) error {
	var data moderation.Resolution
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Resolution")
	}
	moderator, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	fc, err := api.svc.Resolve(ctx.Request().Context(), moderator, ctx.Param("id"), data, api.validate)
	if err != nil {
		return errors.Wrap(err, "resolving flagged content")
	}
	return ctx.JSON(http.StatusOK, fc)
}

package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/core/points"
)

const defaultNearbySpan = 3

var errInvalidMetric = core.NewValidationError(
	errors.New("invalid metric"),
	core.FieldError{Field: "metric", Error: "metric must be one of points, notes, questions, flashcards or posts"},
)

type leaderboardApi struct {
	svc *points.Service
}

func registerLeaderboardAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *points.Service) {
	api := leaderboardApi{svc: svc}

	lg := g.Group("/leaderboard", jwt)
	lg.GET("", api.query)
	lg.GET("/me", api.me)
	lg.GET("/nearby", api.nearby)
	lg.GET("/users/:id", api.userRank)
}

func (api *leaderboardApi) query(ctx echo.Context) error {
	var filter points.LeaderboardFilter
	if err := ctx.Bind(&filter); err != nil {
		return core.NewValidationError(errors.New("invalid query parameters"))
	}
	rows, err := api.svc.GetLeaderboard(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "getting leaderboard")
	}
	return ctx.JSON(http.StatusOK, rows)
}

func (api *leaderboardApi) me(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	return api.rank(ctx, claims.Subject)
}

func (api *leaderboardApi) userRank(ctx echo.Context) error {
	return api.rank(ctx, ctx.Param("id"))
}

func (api *leaderboardApi) rank(ctx echo.Context, userID string) error {
	metric, err := metricParam(ctx)
	if err != nil {
		return err
	}
	rank, err := api.svc.GetUserRank(ctx.Request().Context(), userID, metric)
	if err != nil {
		return errors.Wrap(err, "getting user rank")
	}
	return ctx.JSON(http.StatusOK, rank)
}

func (api *leaderboardApi) nearby(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	metric, err := metricParam(ctx)
	if err != nil {
		return err
	}
	span := defaultNearbySpan
	if s := ctx.QueryParam("span"); s != "" {
		if span, err = strconv.Atoi(s); err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "span", Error: "span must be a number"})
		}
	}

	rows, err := api.svc.GetNearby(ctx.Request().Context(), claims.Subject, span, metric)
	if err != nil {
		return errors.Wrap(err, "getting nearby rows")
	}
	return ctx.JSON(http.StatusOK, rows)
}

func metricParam(ctx echo.Context) (points.Metric, error) {
	metric, ok := points.ParseMetric(ctx.QueryParam("metric"))
	if !ok {
		return "", errInvalidMetric
	}
	return metric, nil
}

package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/nithadya/classsync/core/points"
	"github.com/nithadya/classsync/core/user"
)

type submissionApi struct {
	svc      *points.Service
	validate *validator.Validate
}

func registerSubmissionAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *points.Service, validate *validator.Validate) {
	api := submissionApi{
		svc:      svc,
		validate: validate,
	}

	reviewers := capabilityMiddleware(user.CapReviewSubmissions)

	sg := g.Group("/submissions", jwt)
	sg.POST("", api.create)
	sg.GET("", api.query, reviewers)
	sg.GET("/stats", api.stats, reviewers)
	sg.POST("/:id/review", api.review, reviewers)
}

type ReviewResponse struct {
	Submission points.Submission `json:"submission"`
	Score      points.UserScore  `json:"score"`
}

func (api *submissionApi) create(ctx echo.Context) error {
	var data points.NewSubmission
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubmission")
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	sub, err := api.svc.CreateSubmission(ctx.Request().Context(), claims.Subject, data, api.validate)
	if err != nil {
		return errors.Wrap(err, "creating submission")
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api *submissionApi) query(ctx echo.Context) error {
	var filter points.SubmissionFilter
	if err := ctx.Bind(&filter); err != nil {
		return ctx.JSON(http.StatusOK, []points.Submission{})
	}
	reviewer, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	subs, err := api.svc.ListSubmissions(ctx.Request().Context(), reviewer, filter)
	if err != nil {
		return errors.Wrap(err, "listing submissions")
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *submissionApi) review(ctx echo.Context) error {
	var data points.ReviewSubmission
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReviewSubmission")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	reviewer, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	sub, score, err := api.svc.ReviewSubmission(ctx.Request().Context(), reviewer, ctx.Param("id"), *data.PointsAwarded)
	if err != nil {
		return errors.Wrap(err, "reviewing submission")
	}
	return ctx.JSON(http.StatusOK, ReviewResponse{Submission: sub, Score: score})
}

func (api *submissionApi) stats(ctx echo.Context) error {
	reviewer, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}
	stats, err := api.svc.ReviewerStats(ctx.Request().Context(), reviewer, ctx.QueryParam("reviewer_id"))
	if err != nil {
		return errors.Wrap(err, "getting reviewer stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

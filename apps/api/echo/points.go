package echoapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/core/points"
	"github.com/nithadya/classsync/core/user"
)

// streamHeartbeat keeps idle event streams open through proxies.
var streamHeartbeat = 15 * time.Second

type pointsApi struct {
	svc      *points.Service
	hub      *points.Hub
	validate *validator.Validate
	logger   core.Logger
}

func registerPointsAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *points.Service,
	hub *points.Hub,
	validate *validator.Validate,
	logger core.Logger,
) {
	api := pointsApi{
		svc:      svc,
		hub:      hub,
		validate: validate,
		logger:   logger,
	}

	pg := g.Group("/points", jwt)
	pg.GET("/actions", api.queryActions)
	pg.POST("/actions", api.recordAction)
	pg.POST("/awards", api.award, capabilityMiddleware(user.CapAwardPoints))
	pg.GET("/stream", api.stream)
}

type (
	RecordActionRequest struct {
		UserID string            `json:"user_id"`
		Kind   points.ActionKind `json:"action_kind" validate:"required"`
	}

	ActionValue struct {
		Kind   points.ActionKind `json:"action_kind"`
		Points int               `json:"points"`
	}
)

func (api *pointsApi) queryActions(ctx echo.Context) error {
	actions := make([]ActionValue, 0, len(points.RecordableKinds))
	for _, kind := range points.RecordableKinds {
		pts, _ := kind.Points()
		actions = append(actions, ActionValue{Kind: kind, Points: pts})
	}
	return ctx.JSON(http.StatusOK, actions)
}

func (api *pointsApi) recordAction(ctx echo.Context) error {
	var data RecordActionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RecordActionRequest")
	}
	data.UserID = core.CleanString(data.UserID)
	data.Kind = points.ActionKind(core.CleanString(string(data.Kind)))
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	kind, err := points.ParseActionKind(string(data.Kind))
	if err != nil {
		return err
	}

	actor, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}
	score, err := api.svc.RecordAction(ctx.Request().Context(), actor, data.UserID, kind)
	if err != nil {
		return errors.Wrap(err, "recording action")
	}
	return ctx.JSON(http.StatusCreated, score)
}

func (api *pointsApi) award(ctx echo.Context) error {
	var data points.ManualAward
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ManualAward")
	}
	data.UserID = core.CleanString(data.UserID)
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	awardedBy, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}
	score, err := api.svc.AwardManualPoints(ctx.Request().Context(), awardedBy, data.UserID, *data.Amount)
	if err != nil {
		return errors.Wrap(err, "awarding points")
	}
	return ctx.JSON(http.StatusCreated, score)
}

// stream sends the caller's score events as server-sent events until the client goes away.
// Following another user, or every user with ?user_id=*, takes user.CapFollowAllStreams.
func (api *pointsApi) stream(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}
	userID := p.UserID
	if q := ctx.QueryParam("user_id"); q != "" && !p.IsSelf(q) {
		if !p.Can(user.CapFollowAllStreams) {
			return errHttpForbidden
		}
		userID = q
	}

	sub := api.hub.Subscribe(userID)
	defer api.hub.Unsubscribe(sub)

	resp := ctx.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	done := ctx.Request().Context().Done()
	for {
		select {
		case <-done:
			return nil
		case <-heartbeat.C:
			if _, err = fmt.Fprint(resp, ": ping\n\n"); err != nil {
				return nil
			}
			resp.Flush()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			for _, e := range points.Coalesce(drain(ev, sub.Events())) {
				if err = writeEvent(resp, e); err != nil {
					api.logger.Warn(fmt.Sprintf("writing %s event to user %s: %v", e.Kind, userID, err))
					return nil
				}
			}
			resp.Flush()
		}
	}
}

// drain returns first followed by the events already queued on events.
func drain(first points.Event, events <-chan points.Event) []points.Event {
	batch := []points.Event{first}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return batch
			}
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

func writeEvent(resp *echo.Response, ev points.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encoding event")
	}
	_, err = fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}

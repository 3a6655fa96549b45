package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/lcardenasp7/conta/core/alert"
)

type alertApi struct {
	svc *alert.Evaluator
}

func registerAlertAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *alert.Evaluator) {
	api := alertApi{svc: svc}

	ag := g.Group("/alerts", jwt)
	ag.GET("", api.query)
	ag.POST("/evaluate", api.evaluateAll, adminMiddleware())
}

// Handlers

func (api *alertApi) query(ctx echo.Context) error {
	filter := new(alert.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}

	alerts, err := api.svc.List(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying alerts")
	}
	return ctx.JSON(http.StatusOK, alerts)
}

func (api *alertApi) evaluateAll(ctx echo.Context) error {
	results, err := api.svc.EvaluateAll(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "evaluating alerts")
	}
	changed := make([]alert.Result, 0, len(results))
	for _, res := range results {
		if res.Changed() {
			changed = append(changed, res)
		}
	}
	return ctx.JSON(http.StatusOK, changed)
}

package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/capture"
	"github.com/lcardenasp7/conta/core/fund"
)

type captureApi struct {
	svc *capture.Service
}

// registerCaptureAPI exposes the callbacks of the invoice and supplier-invoice capture adapters.
func registerCaptureAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *capture.Service) {
	api := captureApi{svc: svc}

	cg := g.Group("/captures", jwt)
	cg.POST("/income", api.income)
	cg.POST("/expense", api.expense)
}

// Handlers

func (api *captureApi) income(ctx echo.Context) error {
	return api.capture(ctx, api.svc.OnIncomeCaptured, "capturing income")
}

func (api *captureApi) expense(ctx echo.Context) error {
	return api.capture(ctx, api.svc.OnExpenseCaptured, "capturing expense")
}

func (api *captureApi) capture(
	ctx echo.Context,
	onCaptured func(context.Context, capture.Capture, core.Actor) (fund.Transaction, error),
	what string,
) error {
	var data capture.Capture
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Capture")
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	txn, err := onCaptured(ctx.Request().Context(), data, actor)
	if err != nil {
		return errors.Wrap(err, what)
	}
	return ctx.JSON(http.StatusCreated, txn)
}

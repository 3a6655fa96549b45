package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/lcardenasp7/conta/core/fund"
	"github.com/lcardenasp7/conta/core/transfer"
)

type transferApi struct {
	svc   *transfer.Coordinator
	funds *fund.Service
}

func registerTransferAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *transfer.Coordinator, funds *fund.Service) {
	api := transferApi{svc: svc, funds: funds}

	tg := g.Group("/transfers", jwt)
	tg.POST("", api.create)
	tg.GET("/orphans", api.queryOrphans, adminMiddleware())
	tg.POST("/orphans/repair", api.repairOrphans, adminMiddleware())
	tg.GET("/:reference", api.retrieve)
}

// Handlers

func (api *transferApi) create(ctx echo.Context) error {
	var data transfer.Request
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to transfer.Request")
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	data.Actor = actor.Name()

	res, err := api.svc.Transfer(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "transferring")
	}
	return ctx.JSON(http.StatusCreated, res)
}

// retrieve returns the legs posted under a transfer reference.
func (api *transferApi) retrieve(ctx echo.Context) error {
	page, err := api.funds.ListTransactions(ctx.Request().Context(), fund.TransactionFilter{Reference: ctx.Param("reference")})
	if err != nil {
		return errors.Wrap(err, "querying transfer legs")
	}
	if page.Count == 0 {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, page.Results)
}

func (api *transferApi) queryOrphans(ctx echo.Context) error {
	orphans, err := api.funds.OrphanedTransferLegs(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying orphaned transfer legs")
	}
	if orphans == nil {
		orphans = []fund.Transaction{}
	}
	return ctx.JSON(http.StatusOK, orphans)
}

func (api *transferApi) repairOrphans(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}
	compensations, err := api.svc.RepairOrphans(ctx.Request().Context(), actor)
	if err != nil {
		return errors.Wrap(err, "repairing orphaned transfer legs")
	}
	if compensations == nil {
		compensations = []fund.Transaction{}
	}
	return ctx.JSON(http.StatusOK, compensations)
}

package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/alert"
	"github.com/lcardenasp7/conta/core/fund"
)

var errFundNotFoundInCtx = errors.New("fund object not found in echo.Context")

type fundApi struct {
	svc    *fund.Service
	alerts *alert.Evaluator
}

func registerFundAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *fund.Service, alerts *alert.Evaluator) {
	api := fundApi{svc: svc, alerts: alerts}

	fg := g.Group("/funds", jwt)
	fg.GET("", api.query)
	fg.POST("", api.create, adminMiddleware())
	fg.GET("/reconciliation", api.reconcileAll, adminMiddleware())

	// detail endpoints
	dg := fg.Group("/:id", objectMiddleware(func(ctx context.Context, id string) (interface{}, error) {
		return svc.Get(ctx, id)
	}))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, adminMiddleware())
	dg.POST("/deactivate", api.deactivate, adminMiddleware())
	dg.GET("/balance", api.balance)
	dg.GET("/transactions", api.queryTransactions)
	dg.POST("/transactions", api.post, adminMiddleware())
	dg.GET("/reconciliation", api.reconcile, adminMiddleware())
	dg.POST("/repair", api.repair, adminMiddleware())
	dg.GET("/alerts", api.queryAlerts)
	dg.POST("/alerts/evaluate", api.evaluate, adminMiddleware())
}

func contextFund(ctx echo.Context) (fund.Fund, error) {
	fnd, ok := ctx.Get(contextObjectKey).(fund.Fund)
	if !ok {
		return fund.Fund{}, errors.Wrap(errFundNotFoundInCtx, "retrieving object from context")
	}
	return fnd, nil
}

// Handlers

func (api *fundApi) create(ctx echo.Context) error {
	var data fund.NewFund
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewFund")
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	fnd, err := api.svc.Create(ctx.Request().Context(), data, actor)
	if err != nil {
		return errors.Wrap(err, "creating fund")
	}
	return ctx.JSON(http.StatusCreated, fnd)
}

func (api *fundApi) query(ctx echo.Context) error {
	filter := new(fund.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	funds, err := api.svc.List(ctx.Request().Context(), filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying funds")
	}
	if funds == nil {
		funds = []fund.Fund{}
	}
	return ctx.JSON(http.StatusOK, funds)
}

func (api *fundApi) retrieve(ctx echo.Context) error {
	fnd, err := contextFund(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, fnd)
}

func (api *fundApi) update(ctx echo.Context) error {
	fnd, err := contextFund(ctx)
	if err != nil {
		return err
	}
	var data fund.UpdateFund
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateFund")
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	fnd, err = api.svc.Update(ctx.Request().Context(), fnd.ID, data, actor)
	if err != nil {
		return errors.Wrap(err, "updating fund")
	}
	return ctx.JSON(http.StatusOK, fnd)
}

func (api *fundApi) deactivate(ctx echo.Context) error {
	fnd, err := contextFund(ctx)
	if err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	fnd, err = api.svc.Deactivate(ctx.Request().Context(), fnd.ID, actor)
	if err != nil {
		return errors.Wrap(err, "deactivating fund")
	}
	return ctx.JSON(http.StatusOK, fnd)
}

func (api *fundApi) balance(ctx echo.Context) error {
	fnd, err := contextFund(ctx)
	if err != nil {
		return err
	}
	balance, err := api.svc.Balance(ctx.Request().Context(), fnd.ID)
	if err != nil {
		return errors.Wrap(err, "getting fund balance")
	}
	return ctx.JSON(http.StatusOK, BalanceResponse{FundID: fnd.ID, Balance: balance})
}

func (api *fundApi) queryTransactions(ctx echo.Context) error {
	fnd, err := contextFund(ctx)
	if err != nil {
		return err
	}
	filter := fund.TransactionFilter{}
	if err = ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to TransactionFilter")
	}
	created := new(TimeRange)
	if err = created.Bind(ctx); err != nil {
		return err
	}
	filter.FundID = fnd.ID
	filter.CreatedFrom, filter.CreatedTo = created.From, created.To

	page, err := api.svc.ListTransactions(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying transactions")
	}
	return ctx.JSON(http.StatusOK, page)
}

func (api *fundApi) post(ctx echo.Context) error {
	fnd, err := contextFund(ctx)
	if err != nil {
		return err
	}
	var data PostRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PostRequest")
	}
	// transfer legs only come in pairs, from transfers and loans
	if data.Category.IsTransferLeg() {
		return core.NewFieldError("category", "transfer legs cannot be posted directly")
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	txn, err := api.svc.Post(ctx.Request().Context(), fund.NewTransaction{
		FundID:      fnd.ID,
		Amount:      data.Amount,
		Category:    data.Category,
		Description: data.Description,
		Actor:       actor.Name(),
		ExternalRef: data.ExternalRef,
	})
	if err != nil {
		return errors.Wrap(err, "posting transaction")
	}
	return ctx.JSON(http.StatusCreated, txn)
}

func (api *fundApi) reconcile(ctx echo.Context) error {
	fnd, err := contextFund(ctx)
	if err != nil {
		return err
	}
	rec, err := api.svc.Reconcile(ctx.Request().Context(), fnd.ID)
	if err != nil {
		return errors.Wrap(err, "reconciling fund")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *fundApi) reconcileAll(ctx echo.Context) error {
	recs, err := api.svc.ReconcileAll(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "reconciling funds")
	}
	return ctx.JSON(http.StatusOK, recs)
}

func (api *fundApi) repair(ctx echo.Context) error {
	fnd, err := contextFund(ctx)
	if err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	rec, err := api.svc.Repair(ctx.Request().Context(), fnd.ID, actor)
	if err != nil {
		return errors.Wrap(err, "repairing fund")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *fundApi) queryAlerts(ctx echo.Context) error {
	fnd, err := contextFund(ctx)
	if err != nil {
		return err
	}
	filter := new(alert.QueryFilter)
	if err = ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}
	filter.FundID = fnd.ID

	alerts, err := api.alerts.List(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying alerts")
	}
	return ctx.JSON(http.StatusOK, alerts)
}

func (api *fundApi) evaluate(ctx echo.Context) error {
	fnd, err := contextFund(ctx)
	if err != nil {
		return err
	}
	res, err := api.alerts.Evaluate(ctx.Request().Context(), fnd.ID)
	if err != nil {
		return errors.Wrap(err, "evaluating alerts")
	}
	return ctx.JSON(http.StatusOK, res)
}

type (
	BalanceResponse struct {
		FundID  string          `json:"fund_id"`
		Balance decimal.Decimal `json:"balance"`
	}

	// PostRequest is a manual ledger entry: income, expense or administrative adjustment.
	PostRequest struct {
		Amount      decimal.Decimal `json:"amount"`
		Category    fund.Category   `json:"category"`
		Description string          `json:"description"`
		ExternalRef string          `json:"external_ref"`
	}
)

package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/lcardenasp7/conta/core"
	"github.com/lcardenasp7/conta/core/fund"
	"github.com/lcardenasp7/conta/core/loan"
)

var errLoanNotFoundInCtx = errors.New("loan object not found in echo.Context")

type loanApi struct {
	svc *loan.Service
}

func registerLoanAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *loan.Service) {
	api := loanApi{svc: svc}

	lg := g.Group("/loans", jwt)
	lg.GET("", api.query)
	lg.POST("", api.create)

	// detail endpoints
	dg := lg.Group("/:id", objectMiddleware(func(ctx context.Context, id string) (interface{}, error) {
		return svc.Get(ctx, id)
	}))
	dg.GET("", api.retrieve)
	dg.GET("/movements", api.movements)
	dg.POST("/approve", api.approve, adminMiddleware())
	dg.POST("/reject", api.reject, adminMiddleware())
	dg.POST("/repay", api.repay)
}

func contextLoan(ctx echo.Context) (loan.Loan, error) {
	ln, ok := ctx.Get(contextObjectKey).(loan.Loan)
	if !ok {
		return loan.Loan{}, errors.Wrap(errLoanNotFoundInCtx, "retrieving object from context")
	}
	return ln, nil
}

// Handlers

func (api *loanApi) create(ctx echo.Context) error {
	var data loan.NewLoan
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewLoan")
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	ln, err := api.svc.Request(ctx.Request().Context(), data, actor)
	if err != nil {
		return errors.Wrap(err, "requesting loan")
	}
	return ctx.JSON(http.StatusCreated, ln)
}

func (api *loanApi) query(ctx echo.Context) error {
	filter := new(loan.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to QueryFilter")
	}

	loans, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying loans")
	}
	if loans == nil {
		loans = []loan.Loan{}
	}
	return ctx.JSON(http.StatusOK, loans)
}

func (api *loanApi) retrieve(ctx echo.Context) error {
	ln, err := contextLoan(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ln)
}

func (api *loanApi) movements(ctx echo.Context) error {
	ln, err := contextLoan(ctx)
	if err != nil {
		return err
	}
	txns, err := api.svc.Movements(ctx.Request().Context(), ln.ID)
	if err != nil {
		return errors.Wrap(err, "querying loan movements")
	}
	if txns == nil {
		txns = []fund.Transaction{}
	}
	return ctx.JSON(http.StatusOK, txns)
}

func (api *loanApi) approve(ctx echo.Context) error {
	return api.decide(ctx, api.svc.Approve, "approving loan")
}

func (api *loanApi) reject(ctx echo.Context) error {
	return api.decide(ctx, api.svc.Reject, "rejecting loan")
}

func (api *loanApi) decide(ctx echo.Context, decision func(context.Context, string, core.Actor) (loan.Loan, error), what string) error {
	ln, err := contextLoan(ctx)
	if err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	ln, err = decision(ctx.Request().Context(), ln.ID, actor)
	if err != nil {
		return errors.Wrap(err, what)
	}
	return ctx.JSON(http.StatusOK, ln)
}

func (api *loanApi) repay(ctx echo.Context) error {
	ln, err := contextLoan(ctx)
	if err != nil {
		return err
	}
	var data loan.Repayment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Repayment")
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context actor")
	}

	ln, err = api.svc.Repay(ctx.Request().Context(), ln.ID, data.Amount, actor)
	if err != nil {
		return errors.Wrap(err, "repaying loan")
	}
	return ctx.JSON(http.StatusOK, ln)
}

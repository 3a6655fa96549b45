package echoapi

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lcardenasp7/conta/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// TimeRange binds the RFC 3339 "created_from" and "created_to" query params.
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (tr *TimeRange) Bind(ctx echo.Context) error {
	for param, dest := range map[string]*time.Time{"created_from": &tr.From, "created_to": &tr.To} {
		val := ctx.QueryParam(param)
		if val == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, val)
		if err != nil {
			return core.NewFieldError(param, param+" must be an RFC 3339 timestamp")
		}
		*dest = t.UTC()
	}
	return nil
}

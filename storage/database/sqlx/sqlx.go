// Package sqlxrepos implements the domain repositories on top of sqlx, for
// PostgreSQL and SQLite. Queries use "?" placeholders, rebound per driver.
package sqlxrepos

import (
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/lcardenasp7/conta/core"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(driverSQLite, sqlx.QUESTION)
}

type baseRepository struct {
	exec core.DBExecutor
}

func (repo baseRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return repo.exec
}

// lockClause returns the row lock suffix; SQLite serializes writers instead.
func lockClause(exec core.DBExecutor, forUpdate bool) string {
	if forUpdate && exec.DriverName() == driverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// numeric returns an expression ordering a decimal column by value: SQLite stores them as TEXT.
func numeric(exec core.DBExecutor, col string) string {
	if exec.DriverName() == driverSQLite {
		return "CAST(" + col + " AS REAL)"
	}
	return col
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// trapNoRowsErr maps "no rows" err to notFound
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// placeholders returns "?, ?, ?" for n values.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// where accumulates AND-ed conditions and their args.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// orderBy builds the ORDER BY clause from the allowed orderings; the others are ignored.
func orderBy(exec core.DBExecutor, orderings []core.DBOrdering, allowed map[string]bool, numericCols map[string]bool, dflt string) string {
	clauses := make([]string, 0, len(orderings))
	for _, ord := range orderings {
		if !allowed[ord.Field] {
			continue
		}
		if numericCols[ord.Field] {
			ord.Field = numeric(exec, ord.Field)
		}
		clauses = append(clauses, ord.String())
	}
	if len(clauses) == 0 {
		return " ORDER BY " + dflt
	}
	return " ORDER BY " + strings.Join(clauses, ", ")
}

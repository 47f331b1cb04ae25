// Package sqlxrepos implements the repositories on PostgreSQL through sqlx.
package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/bursar/core"
)

const (
	uniqueViolation     = pq.ErrorCode("23505")
	foreignKeyViolation = pq.ErrorCode("23503")
)

// pqError returns the postgres error code & constraint name of err, if any.
func pqError(err error) (pq.ErrorCode, string) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code, pqErr.Constraint
	}
	return "", ""
}

// validID reports whether id can be compared with a UUID column.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// withTx runs fn in a READ COMMITTED transaction; rows needing serialization are locked explicitly.
func withTx(ctx context.Context, db core.DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = errors.Wrap(tx.Commit(), "committing transaction")
	}()
	return fn(tx)
}

// where accumulates AND-ed conditions with their positional arguments.
type where struct {
	conds []string
	args  []interface{}
}

// add appends cond, where every %[1]d is replaced by the placeholder index of arg.
func (w *where) add(cond string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) addIf(ok bool, cond string, arg interface{}) {
	if ok {
		w.add(cond, arg)
	}
}

// arg registers an argument not tied to a condition & returns its placeholder.
func (w *where) arg(v interface{}) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// qualify prefixes every column of a comma separated list with the table alias.
func qualify(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func orderBy(orderings ...core.DBOrdering) string {
	if len(orderings) == 0 {
		return ""
	}
	terms := make([]string, len(orderings))
	for i, ord := range orderings {
		terms[i] = ord.String()
	}
	return " ORDER BY " + strings.Join(terms, ", ")
}

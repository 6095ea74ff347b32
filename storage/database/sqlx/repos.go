// Package sqlxrepos implements the app repositories on PostgreSQL.
package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/storage/database"
)

// postgres error codes
const (
	foreignKeyViolation = "23503"
	uniqueViolation     = "23505"
)

// store is embedded by every repository.
type store struct {
	db core.DB
	tx core.Transactor
}

func newStore(db *sqlx.DB, tx core.Transactor) store {
	return store{db: db, tx: tx}
}

// exec returns the transaction carried by ctx, or the DB.
func (s store) exec(ctx context.Context) core.DBExecutor {
	return core.Executor(ctx, s.db)
}

// trapNoRowsErr maps psql "no rows" err to notFound
func trapNoRowsErr(err, notFound error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return database.TrapShutdown(err, msg)
}

// pqCode returns the postgres error code of err, if any.
func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// uuids drops the ids that could not be stored in a uuid column.
func uuids(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if isUUID(id) {
			out = append(out, id)
		}
	}
	return out
}

// pairs are (owner, value) rows of a many-to-many table.
type pair struct {
	Owner string `db:"owner"`
	Value string `db:"value"`
}

// groupPairs indexes the values by owner.
func groupPairs(rows []pair) map[string][]string {
	m := make(map[string][]string)
	for _, r := range rows {
		m[r.Owner] = append(m[r.Owner], r.Value)
	}
	return m
}

func nonNil(vals []string) []string {
	if vals == nil {
		return []string{}
	}
	return vals
}

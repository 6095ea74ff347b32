package core

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

type (
	// DBExecutor is satisfied by both *sqlx.DB and *sqlx.Tx.
	DBExecutor interface {
		sqlx.ExtContext
		GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
		SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	}

	DB interface {
		DBExecutor

		BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	}

	// Transactor runs fn inside a single transaction. The transaction travels in the context
	// passed to fn; repositories pick it up from there. Nested calls join the outer transaction.
	Transactor interface {
		InTx(ctx context.Context, fn func(ctx context.Context) error) error
	}
)

type txKey struct{}

// Tx is the per-transaction state carried in a context.Context.
type Tx struct {
	Exec     DBExecutor // nil for stores that do not speak SQL
	onCommit []func()
}

func ContextWithTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func TxFromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok && tx != nil
}

// Committed runs the registered commit hooks, in registration order.
func (tx *Tx) Committed() {
	hooks := tx.onCommit
	tx.onCommit = nil
	for _, fn := range hooks {
		fn()
	}
}

// OnCommit registers fn to run once the transaction in ctx commits.
// Outside of a transaction, fn runs immediately.
func OnCommit(ctx context.Context, fn func()) {
	if tx, ok := TxFromContext(ctx); ok {
		tx.onCommit = append(tx.onCommit, fn)
		return
	}
	fn()
}

// Executor returns the transaction executor carried by ctx, or def.
func Executor(ctx context.Context, def DBExecutor) DBExecutor {
	if tx, ok := TxFromContext(ctx); ok && tx.Exec != nil {
		return tx.Exec
	}
	return def
}

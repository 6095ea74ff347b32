package inmemdb

import (
	"context"
	"sync"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/curriculum"
	"github.com/trezcool/examinator/core/saas"
	"github.com/trezcool/examinator/core/user"
)

type (
	// DB is an in-memory store holding every table of the app.
	DB struct {
		mutex  sync.RWMutex // guards tables
		txLock sync.RWMutex // held by the running transaction; shared by reads and writes outside of one
		tables tables
	}

	tables struct {
		nodes    map[string]curriculum.Node
		users    map[string]user.User
		profiles map[string]user.Profile
		orgs     map[string]saas.Organization
		limits   map[string]saas.UsageLimit
		perms    map[string]saas.Permission
		grants   map[string]saas.LicenseGrant
		groups   map[string]saas.Group
	}
)

func Open() *DB {
	return &DB{
		tables: tables{
			nodes:    make(map[string]curriculum.Node),
			users:    make(map[string]user.User),
			profiles: make(map[string]user.Profile),
			orgs:     make(map[string]saas.Organization),
			limits:   make(map[string]saas.UsageLimit),
			perms:    make(map[string]saas.Permission),
			grants:   make(map[string]saas.LicenseGrant),
			groups:   make(map[string]saas.Group),
		},
	}
}

// snapshot copies every table. Rows are stored by value and their slices are never mutated
// in place, so copying the maps is enough.
func (t tables) snapshot() tables {
	return tables{
		nodes:    copyMap(t.nodes),
		users:    copyMap(t.users),
		profiles: copyMap(t.profiles),
		orgs:     copyMap(t.orgs),
		limits:   copyMap(t.limits),
		perms:    copyMap(t.perms),
		grants:   copyMap(t.grants),
		groups:   copyMap(t.groups),
	}
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// read runs fn with shared access to the tables. Outside of a transaction it waits for the
// running transaction, so that uncommitted rows are never seen.
func (db *DB) read(ctx context.Context, fn func(t *tables) error) error {
	if _, ok := core.TxFromContext(ctx); !ok {
		db.txLock.RLock()
		defer db.txLock.RUnlock()
	}
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	return fn(&db.tables)
}

// write runs fn with exclusive access to the tables. Outside of a transaction it also waits
// for the running transaction, so that a rollback never erases it.
func (db *DB) write(ctx context.Context, fn func(t *tables) error) error {
	if _, ok := core.TxFromContext(ctx); !ok {
		db.txLock.Lock()
		defer db.txLock.Unlock()
	}
	db.mutex.Lock()
	defer db.mutex.Unlock()
	return fn(&db.tables)
}

type transactor struct {
	db *DB
}

var _ core.Transactor = (*transactor)(nil) // interface compliance check

// NewTransactor returns a Transactor that serializes transactions and restores a snapshot of
// the tables when one fails.
func NewTransactor(db *DB) core.Transactor {
	return &transactor{db: db}
}

func (tr *transactor) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := core.TxFromContext(ctx); ok {
		return fn(ctx)
	}

	tr.db.txLock.Lock()
	tr.db.mutex.RLock()
	snap := tr.db.tables.snapshot()
	tr.db.mutex.RUnlock()

	tx := new(core.Tx)
	committed := false
	defer func() {
		if !committed {
			tr.db.mutex.Lock()
			tr.db.tables = snap
			tr.db.mutex.Unlock()
		}
		tr.db.txLock.Unlock()
		if committed {
			tx.Committed()
		}
	}()

	if err = fn(core.ContextWithTx(ctx, tx)); err != nil {
		return err
	}
	committed = true
	return nil
}

func copyStrings(vals []string) []string {
	if vals == nil {
		return []string{}
	}
	return append(make([]string, 0, len(vals)), vals...)
}

func copyMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Package shared wires the app dependencies for every executable.
package shared

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/curriculum"
	"github.com/trezcool/examinator/core/license"
	"github.com/trezcool/examinator/core/saas"
	"github.com/trezcool/examinator/core/user"
	logsvc "github.com/trezcool/examinator/services/logger"
	"github.com/trezcool/examinator/storage/cache"
	"github.com/trezcool/examinator/storage/database"
	inmemdb "github.com/trezcool/examinator/storage/database/inmem"
	sqlxrepos "github.com/trezcool/examinator/storage/database/sqlx"
)

// MemoryEngine selects the in-memory store (demo mode; nothing survives a restart).
const MemoryEngine = "memory"

type Deps struct {
	Conf   *core.Config
	Logger core.Logger
	DB     *sqlx.DB // nil with the in-memory store

	Tree       *curriculum.Tree
	Curriculum *curriculum.Service
	Users      *user.Service
	Saas       *saas.Service
	Engine     *license.Engine
	Licenses   *license.Service

	closers []func() error
}

// NewLogger returns a zap logger, reporting to Rollbar as well when a rollbar token is configured.
func NewLogger(name string, conf *core.Config) (core.Logger, func(), error) {
	zl, err := logsvc.NewZapLogger(name, conf)
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating zap logger")
	}
	if conf.RollbarToken == "" {
		return zl, zl.Sync, nil
	}
	rl := logsvc.NewRollbarLogger(zl, conf)
	rl.Enable(!conf.Debug)
	return rl, zl.Sync, nil
}

// Setup opens the storage layers and builds the services. With bootstrap, the database and its
// app user are created when missing and migrations run up.
func Setup(ctx context.Context, conf *core.Config, logger core.Logger, bootstrap bool) (*Deps, error) {
	d := &Deps{Conf: conf, Logger: logger}

	var (
		tx       core.Transactor
		currRepo curriculum.Repository
		usrRepo  user.Repository
		saasRepo saas.Repository
	)
	if conf.Database.Engine == MemoryEngine {
		logger.Warn("using the in-memory store")
		db := inmemdb.Open()
		tx = inmemdb.NewTransactor(db)
		currRepo = inmemdb.NewCurriculumRepository(db)
		usrRepo = inmemdb.NewUserRepository(db)
		saasRepo = inmemdb.NewSaasRepository(db)
	} else {
		db, err := openDB(ctx, conf, bootstrap)
		if err != nil {
			return nil, err
		}
		d.DB = db
		d.closers = append(d.closers, db.Close)
		tx = database.NewTransactor(db)
		currRepo = sqlxrepos.NewCurriculumRepository(db, tx)
		usrRepo = sqlxrepos.NewUserRepository(db, tx)
		saasRepo = sqlxrepos.NewSaasRepository(db, tx)
	}

	var permCache user.PermissionCache
	if conf.RedisURL != "" {
		rc, err := cache.NewRedisPermissionCache(conf.RedisURL)
		if err != nil {
			_ = d.Close()
			return nil, errors.Wrap(err, "setting up permission cache")
		}
		d.closers = append(d.closers, rc.Close)
		permCache = rc
	} else {
		permCache = cache.NewMemoryPermissionCache()
	}

	d.Tree = curriculum.NewTree(currRepo, tx)
	d.Curriculum = curriculum.NewService(currRepo, tx)
	d.Users = user.NewService(usrRepo, permCache, logger)
	d.Saas = saas.NewService(saasRepo, tx)
	d.Engine = license.NewEngine(tx, d.Tree, saasRepo, usrRepo, permCache, logger)
	d.Licenses = license.NewService(saasRepo, d.Tree, d.Engine, tx)
	d.Curriculum.OnDelete(d.Licenses)
	return d, nil
}

func openDB(ctx context.Context, conf *core.Config, bootstrap bool) (*sqlx.DB, error) {
	if bootstrap {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, errors.Wrap(err, "creating database")
		}
	}
	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}
	if bootstrap {
		if err = database.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// Close releases the storage layers, in reverse opening order.
func (d *Deps) Close() error {
	var firstErr error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.closers = nil
	return firstErr
}

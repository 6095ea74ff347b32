package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/license"
)

const sweepTimeout = 30 * time.Minute

// Sweeper re-runs license propagation for every organization.
type Sweeper interface {
	Sweep(ctx context.Context) (license.SweepReport, error)
}

// Manager runs the periodic jobs of the app: so far, the daily license sweep that catches
// grants which expired without any mutation.
type Manager struct {
	cron      *cron.Cron
	sweeper   Sweeper
	sweepSpec string
	log       core.Logger
}

// NewManager parses specs with a seconds field, eg. "0 0 2 * * *" for every day at 02:00.
func NewManager(sweeper Sweeper, sweepSpec string, logger core.Logger) *Manager {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
	)
	return &Manager{cron: c, sweeper: sweeper, sweepSpec: sweepSpec, log: logger}
}

func (m *Manager) Start() error {
	if _, err := m.cron.AddFunc(m.sweepSpec, m.RunSweep); err != nil {
		return errors.Wrapf(err, "scheduling license sweep %q", m.sweepSpec)
	}
	m.cron.Start()
	m.log.Info("scheduler started", "sweep_schedule", m.sweepSpec)
	return nil
}

// Stop waits for running jobs to finish.
func (m *Manager) Stop() {
	<-m.cron.Stop().Done()
	m.log.Info("scheduler stopped")
}

func (m *Manager) RunSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	start := time.Now()
	m.log.Info("license sweep started")
	report, err := m.sweeper.Sweep(ctx)
	if err != nil {
		m.log.Error("license sweep aborted", "error", err)
		return
	}
	m.log.Info("license sweep finished",
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"took", time.Since(start).String())
}

// cronLogger adapts core.Logger to cron.Logger.
type cronLogger struct {
	log core.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}

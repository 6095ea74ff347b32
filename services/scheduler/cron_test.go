package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/license"
)

type sweeperMock struct {
	calls int32
	err   error
}

func (s *sweeperMock) Sweep(ctx context.Context) (license.SweepReport, error) {
	atomic.AddInt32(&s.calls, 1)
	if _, ok := ctx.Deadline(); !ok {
		return license.SweepReport{}, errors.New("sweep without deadline")
	}
	return license.SweepReport{Succeeded: []string{"o1"}}, s.err
}

func TestManager_Start(t *testing.T) {
	t.Run("bad spec", func(t *testing.T) {
		m := NewManager(new(sweeperMock), "every day", core.NopLogger)
		assert.Error(t, m.Start())
	})

	t.Run("runs the sweep", func(t *testing.T) {
		sweeper := new(sweeperMock)
		m := NewManager(sweeper, "* * * * * *", core.NopLogger)
		require.NoError(t, m.Start())
		defer m.Stop()

		assert.Eventually(t, func() bool {
			return atomic.LoadInt32(&sweeper.calls) > 0
		}, 3*time.Second, 50*time.Millisecond)
	})
}

func TestManager_RunSweep(t *testing.T) {
	sweeper := &sweeperMock{err: errors.New("db down")}
	m := NewManager(sweeper, "0 0 2 * * *", core.NopLogger)

	m.RunSweep()
	assert.Equal(t, int32(1), atomic.LoadInt32(&sweeper.calls))
}

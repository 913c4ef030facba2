package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/brandkit-crawler/internal/sequencer"
)

type countingAdvancer struct {
	calls atomic.Int32
	err   error
}

func (a *countingAdvancer) Advance(context.Context) (sequencer.Report, error) {
	a.calls.Add(1)
	return sequencer.Report{Claimed: 1, Completed: 1}, a.err
}

func TestNewRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	_, err := New("every now and then", &countingAdvancer{}, nil)
	require.Error(t, err)
}

func TestTickCallsAdvance(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	adv := &countingAdvancer{}
	s, err := New("@every 1h", adv, zap.New(core))
	require.NoError(t, err)

	s.Tick()
	require.EqualValues(t, 1, adv.calls.Load())
	require.Equal(t, 1, s.Ticks())
	require.Equal(t, 1, logs.FilterMessage("scheduled tick").Len())
}

func TestTickLogsAdvanceError(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	s, err := New("@every 1h", &countingAdvancer{err: errors.New("store down")}, zap.New(core))
	require.NoError(t, err)

	s.Tick()
	require.Equal(t, 1, logs.FilterMessage("scheduled tick failed").Len())
}

func TestStartFiresUntilStopped(t *testing.T) {
	t.Parallel()

	adv := &countingAdvancer{}
	s, err := New("@every 1s", adv, nil)
	require.NoError(t, err)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return adv.calls.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	s.Stop()

	fired := adv.calls.Load()
	time.Sleep(1200 * time.Millisecond)
	require.Equal(t, fired, adv.calls.Load())
}

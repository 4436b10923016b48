package cpuminer

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGenerator is a BlockGenerator for tests.  Each call runs the configured
// handler while tracking call counts and the peak number of concurrently
// outstanding calls.
type fakeGenerator struct {
	handler func(numBlocks int64, address string, iterations int64) ([]string, error)

	calls       int64 // atomic
	inFlight    int64 // atomic
	maxInFlight int64 // atomic
}

func (g *fakeGenerator) GenerateToAddress(numBlocks int64, address string, iterations int64) ([]string, error) {
	atomic.AddInt64(&g.calls, 1)
	cur := atomic.AddInt64(&g.inFlight, 1)
	for {
		max := atomic.LoadInt64(&g.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt64(&g.maxInFlight, max, cur) {
			break
		}
	}
	defer atomic.AddInt64(&g.inFlight, -1)

	if g.handler == nil {
		return nil, nil
	}
	return g.handler(numBlocks, address, iterations)
}

func (g *fakeGenerator) callCount() int64 {
	return atomic.LoadInt64(&g.calls)
}

// runMiner starts the miner on its own goroutine and returns a function that
// cancels it and waits for Run to return, failing the test when the shutdown
// does not complete in bounded time.
func runMiner(t *testing.T, m *CPUMiner) (cancel func()) {
	t.Helper()

	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx)
	}()

	return func() {
		cancelCtx()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second * 10):
			t.Fatal("miner did not stop in bounded time")
		}
	}
}

func TestHashesPerSecGuardsZeroElapsed(t *testing.T) {
	assert.Equal(t, float64(0), hashesPerSec(5000, 0))
	assert.Equal(t, float64(0), hashesPerSec(5000, -time.Second))
	assert.InDelta(t, 2500.0, hashesPerSec(5000, time.Second*2), 0.001)
}

func TestHashRateRegistryReadAfterWrite(t *testing.T) {
	m := New(&Config{Generator: &fakeGenerator{}, NumWorkers: 4})

	m.setHashRate(0, 100)
	m.setHashRate(1, 200)
	assert.Equal(t, 300.0, m.HashesPerSec())

	// Overwrites replace, never remove, the worker's entry.
	m.setHashRate(1, 50)
	assert.Equal(t, 150.0, m.HashesPerSec())

	// Concurrent writers to distinct entries never lose each other's
	// values.
	var wg sync.WaitGroup
	for id := uint32(0); id < 4; id++ {
		wg.Add(1)
		go func(workerID uint32) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				m.setHashRate(workerID, float64(workerID+1))
			}
		}(id)
	}
	wg.Wait()
	assert.Equal(t, 1.0+2.0+3.0+4.0, m.HashesPerSec())
}

// TestWorkerPublishesThroughput covers the single-worker happy path: every
// cycle completes instantly with no blocks found and the published rate shows
// up in the aggregate.
func TestWorkerPublishesThroughput(t *testing.T) {
	gen := &fakeGenerator{}
	m := New(&Config{
		Generator:  gen,
		MiningAddr: "VTestAddress",
		NumWorkers: 1,
		Iterations: 500,
	})
	stop := runMiner(t, m)

	require.Eventually(t, func() bool {
		return m.HashesPerSec() > 0
	}, time.Second*5, time.Millisecond*5)

	total := m.HashesPerSec()
	assert.False(t, math.IsNaN(total))
	assert.False(t, math.IsInf(total, 0))
	stop()
}

// TestWorkerSurvivesRPCErrors verifies a run in which every call fails: the
// workers neither crash nor publish a negative or undefined rate, and the
// loop keeps attempting calls.
func TestWorkerSurvivesRPCErrors(t *testing.T) {
	errRefused := errors.New("connection refused")
	gen := &fakeGenerator{
		handler: func(int64, string, int64) ([]string, error) {
			return nil, errRefused
		},
	}
	m := New(&Config{
		Generator:  gen,
		MiningAddr: "VTestAddress",
		NumWorkers: 2,
		Iterations: 500,
	})
	stop := runMiner(t, m)

	require.Eventually(t, func() bool {
		return gen.callCount() >= 10
	}, time.Second*5, time.Millisecond*5)

	total := m.HashesPerSec()
	assert.GreaterOrEqual(t, total, 0.0)
	assert.False(t, math.IsNaN(total))
	assert.False(t, math.IsInf(total, 0))
	stop()
}

// TestWorkerSkipsPublishAfterCancel verifies a worker whose call was in
// flight when the stop arrived exits without publishing the stale
// measurement.
func TestWorkerSkipsPublishAfterCancel(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	gen := &fakeGenerator{
		handler: func(int64, string, int64) ([]string, error) {
			once.Do(func() { close(entered) })
			<-release
			return nil, nil
		},
	}
	m := New(&Config{
		Generator:  gen,
		MiningAddr: "VTestAddress",
		NumWorkers: 1,
		Iterations: 500,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx)
	}()

	<-entered
	cancel()
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second * 10):
		t.Fatal("miner did not stop in bounded time")
	}
	assert.Equal(t, 0.0, m.HashesPerSec())
}

// TestConcurrentCancelIsIdempotent issues the stop request from several
// goroutines at once and verifies the miner still shuts down cleanly.
func TestConcurrentCancelIsIdempotent(t *testing.T) {
	m := New(&Config{
		Generator:  &fakeGenerator{},
		MiningAddr: "VTestAddress",
		NumWorkers: 4,
		Iterations: 500,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return m.HashesPerSec() > 0
	}, time.Second*5, time.Millisecond*5)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cancel()
		}()
	}
	wg.Wait()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second * 10):
		t.Fatal("miner did not stop in bounded time")
	}
}

func TestRunRejectsSecondInvocation(t *testing.T) {
	m := New(&Config{
		Generator:  &fakeGenerator{},
		MiningAddr: "VTestAddress",
		NumWorkers: 1,
		Iterations: 500,
	})
	stop := runMiner(t, m)

	require.Eventually(t, func() bool {
		return m.HashesPerSec() > 0
	}, time.Second*5, time.Millisecond*5)

	err := m.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	stop()
}

func TestNewDefaultsWorkerCount(t *testing.T) {
	m := New(&Config{Generator: &fakeGenerator{}})
	assert.Greater(t, m.cfg.NumWorkers, uint32(0))
}

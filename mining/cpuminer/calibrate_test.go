package cpuminer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalcIterations(t *testing.T) {
	tests := []struct {
		name    string
		samples []time.Duration
		want    int64
	}{{
		name:    "no samples falls back to default",
		samples: nil,
		want:    defaultIterations,
	}, {
		name: "four probes at exactly ten seconds",
		samples: []time.Duration{
			time.Second * 10, time.Second * 10,
			time.Second * 10, time.Second * 10,
		},
		want: 6000,
	}, {
		name:    "single probe at target duration keeps reference size",
		samples: []time.Duration{targetCycleDuration},
		want:    calibrationIterations,
	}, {
		name:    "pathologically fast endpoint clamps to max",
		samples: []time.Duration{time.Microsecond},
		want:    maxIterations,
	}, {
		name:    "zero elapsed clamps to max without dividing",
		samples: []time.Duration{0},
		want:    maxIterations,
	}, {
		name:    "pathologically slow endpoint clamps to min",
		samples: []time.Duration{time.Hour},
		want:    minIterations,
	}, {
		name: "mean is used, not any single sample",
		// Mean of 5s and 15s is 10s.
		samples: []time.Duration{time.Second * 5, time.Second * 15},
		want:    6000,
	}}

	for _, test := range tests {
		got := calcIterations(test.samples)
		assert.Equalf(t, test.want, got, "test %q", test.name)

		// Regardless of inputs the result stays in the closed range.
		if len(test.samples) != 0 {
			assert.GreaterOrEqualf(t, got, minIterations, "test %q", test.name)
			assert.LessOrEqualf(t, got, maxIterations, "test %q", test.name)
		}
	}
}

func TestCalibrateAllProbesFail(t *testing.T) {
	gen := &fakeGenerator{
		handler: func(int64, string, int64) ([]string, error) {
			return nil, errors.New("connection refused")
		},
	}
	m := New(&Config{
		Generator:  gen,
		MiningAddr: "VTestAddress",
		NumWorkers: 4,
	})

	got := m.calibrateIterations(context.Background())
	assert.Equal(t, defaultIterations, got)
	assert.EqualValues(t, 4, gen.callCount())
}

// TestCalibrateSynchronizedStart verifies the probes rendezvous before their
// timed calls: with every call holding for a moment, all of them must be
// observed in flight simultaneously.
func TestCalibrateSynchronizedStart(t *testing.T) {
	const numWorkers = 8
	gen := &fakeGenerator{
		handler: func(int64, string, int64) ([]string, error) {
			time.Sleep(time.Millisecond * 50)
			return nil, nil
		},
	}
	m := New(&Config{
		Generator:  gen,
		MiningAddr: "VTestAddress",
		NumWorkers: numWorkers,
	})

	got := m.calibrateIterations(context.Background())

	assert.EqualValues(t, numWorkers, gen.maxInFlight)
	assert.EqualValues(t, numWorkers, gen.callCount())
	// 50ms probes are far faster than the target cycle, so the clamp
	// applies.
	assert.Equal(t, maxIterations, got)
}

func TestCalibrateUsesReferenceWorkload(t *testing.T) {
	var gotIterations int64
	gen := &fakeGenerator{
		handler: func(numBlocks int64, address string, iterations int64) ([]string, error) {
			gotIterations = iterations
			require.EqualValues(t, 1, numBlocks)
			require.Equal(t, "VTestAddress", address)
			return nil, nil
		},
	}
	m := New(&Config{
		Generator:  gen,
		MiningAddr: "VTestAddress",
		NumWorkers: 1,
	})

	m.calibrateIterations(context.Background())
	assert.Equal(t, calibrationIterations, gotIterations)
}

func TestCalibrateResultWithinBounds(t *testing.T) {
	for _, numWorkers := range []uint32{1, 2, 4, 7} {
		gen := &fakeGenerator{
			handler: func(int64, string, int64) ([]string, error) {
				time.Sleep(time.Millisecond * 5)
				return nil, nil
			},
		}
		m := New(&Config{
			Generator:  gen,
			MiningAddr: "VTestAddress",
			NumWorkers: numWorkers,
		})

		got := m.calibrateIterations(context.Background())
		assert.GreaterOrEqual(t, got, minIterations)
		assert.LessOrEqual(t, got, maxIterations)
	}
}

func TestCalibrateCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := &fakeGenerator{}
	m := New(&Config{
		Generator:  gen,
		MiningAddr: "VTestAddress",
		NumWorkers: 4,
	})

	// Probes released into a cancelled context report nothing, so the
	// fallback applies; Run discards the value when it sees the cancelled
	// context anyway.
	got := m.calibrateIterations(ctx)
	assert.Equal(t, defaultIterations, got)
}

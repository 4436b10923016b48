package cpuminer

import (
	"context"
	"sync"
	"time"
)

const (
	// calibrationIterations is the small fixed iteration count every
	// calibration probe requests so the measured latencies are comparable.
	calibrationIterations int64 = 2000

	// targetCycleDuration is the wall-clock duration one full mining call
	// should take; calibration scales the iteration count toward it.
	targetCycleDuration = time.Second * 30

	// minIterations and maxIterations bound the calibrated iteration
	// count.  Too few iterations per call wastes time on request overhead
	// while too many makes cancellation sluggish and rate reports coarse.
	minIterations int64 = 200
	maxIterations int64 = 20000

	// defaultIterations is used when calibration yields no measurements
	// at all, e.g. when the endpoint refuses every probe.
	defaultIterations int64 = 5000
)

// calcIterations derives an iteration count from the elapsed times measured
// by the calibration probes.  The mean probe latency is scaled so a full call
// approximates the target cycle duration, then clamped to the sane range.
// An empty sample set yields the fallback default.
func calcIterations(samples []time.Duration) int64 {
	if len(samples) == 0 {
		return defaultIterations
	}

	var total time.Duration
	for _, sample := range samples {
		total += sample
	}
	avg := total / time.Duration(len(samples))
	if avg <= 0 {
		// The endpoint answered effectively instantly, so request as
		// much work per call as allowed.
		return maxIterations
	}

	estimated := int64(float64(calibrationIterations) *
		(targetCycleDuration.Seconds() / avg.Seconds()))
	if estimated < minIterations {
		return minIterations
	}
	if estimated > maxIterations {
		return maxIterations
	}
	return estimated
}

// calibrateIterations measures the latency of a reference-sized call under
// full contention and derives the per-call iteration count from it.  One
// probe per configured worker is launched and all probes rendezvous before
// issuing their timed call, so the measurement reflects what each worker can
// actually achieve when every slot is busy rather than the much faster
// single-caller latency.
//
// Probes whose call fails contribute no sample.  When no probe contributes a
// sample the fallback default is returned and a warning is surfaced to the
// operator.
func (m *CPUMiner) calibrateIterations(ctx context.Context) int64 {
	numProbes := m.cfg.NumWorkers
	log.Infof("Calibrating iteration count with %d concurrent probes",
		numProbes)

	var (
		samplesMtx sync.Mutex
		samples    []time.Duration
	)

	// One-shot rendezvous: every probe signals its arrival and then blocks
	// until the release channel closes, so no probe starts its timed call
	// before the last probe has arrived.
	var arrivals, probes sync.WaitGroup
	release := make(chan struct{})
	arrivals.Add(int(numProbes))
	probes.Add(int(numProbes))
	for i := uint32(0); i < numProbes; i++ {
		go func(probeID uint32) {
			defer probes.Done()

			arrivals.Done()
			select {
			case <-release:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				return
			}

			start := time.Now()
			_, err := m.cfg.Generator.GenerateToAddress(1,
				m.cfg.MiningAddr, calibrationIterations)
			elapsed := time.Since(start)
			if err != nil {
				log.Debugf("Calibration probe %d failed: %v",
					probeID, err)
				return
			}

			samplesMtx.Lock()
			samples = append(samples, elapsed)
			samplesMtx.Unlock()
		}(i)
	}
	arrivals.Wait()
	close(release)
	probes.Wait()

	if len(samples) == 0 {
		log.Warnf("Calibration failed (no response time measured); "+
			"using default %d iterations", defaultIterations)
		return defaultIterations
	}

	iterations := calcIterations(samples)
	log.Infof("Calibration complete, adjusting iterations to %d",
		iterations)
	return iterations
}

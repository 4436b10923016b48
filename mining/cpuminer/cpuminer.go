package cpuminer

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"
)

const (
	// hpsInitialDelay is how long the speed monitor waits after the miner
	// starts before emitting its first total hash rate report.  Early
	// cycles have not settled yet, so reporting immediately would mostly
	// produce noise.
	hpsInitialDelay = time.Second * 60

	// hpsUpdateInterval is the amount of time to wait in between each
	// update to the hashes per second monitor.
	hpsUpdateInterval = time.Second * 30
)

// BlockGenerator defines the single capability the miner requires from the
// remote endpoint: perform the given number of proof-of-work iterations
// toward numBlocks blocks paying to address, returning the hashes of any
// blocks produced.  Implementations must be safe for concurrent use since
// every worker has a call outstanding at any given time.
type BlockGenerator interface {
	GenerateToAddress(numBlocks int64, address string, iterations int64) ([]string, error)
}

// Config is a descriptor containing the CPU miner configuration.
type Config struct {
	// Generator is the connection to the remote block-generation endpoint
	// that all workers and calibration probes share.
	Generator BlockGenerator

	// MiningAddr is the payment address block rewards are generated to.
	MiningAddr string

	// NumWorkers is the number of concurrent mining workers to run.  A
	// value of zero means one worker per processor core.
	NumWorkers uint32

	// Iterations is the number of proof-of-work iterations requested per
	// call.  A value of zero means the miner calibrates a value targeting
	// a fixed cycle duration before starting its workers.
	Iterations int64
}

// ErrAlreadyStarted is returned by Run when the miner is already running.
var ErrAlreadyStarted = errors.New("miner is already running")

// CPUMiner provides facilities for driving a remote block-generation endpoint
// in a concurrency-safe manner.  It consists of two main goroutine groups --
// a speed monitor and the mining workers, each of which repeatedly issues a
// sized generatetoaddress call and publishes its measured hash rate.
//
// The number of iterations per call is frozen once at startup, either from
// the configuration or by calibrating against the endpoint, and never changes
// for the remainder of the run.
type CPUMiner struct {
	sync.Mutex
	cfg        *Config
	iterations int64
	started    bool
	hashRates  map[uint32]float64
	wg         sync.WaitGroup
	workerWg   sync.WaitGroup
}

// New returns a new instance of a CPU miner for the provided configuration.
// Use Run to begin the mining process.
func New(cfg *Config) *CPUMiner {
	miner := &CPUMiner{
		cfg:       cfg,
		hashRates: make(map[uint32]float64),
	}
	if miner.cfg.NumWorkers == 0 {
		miner.cfg.NumWorkers = uint32(runtime.NumCPU())
	}
	return miner
}

// hashesPerSec converts an iteration count and the wall-clock time the call
// took into an instantaneous hash rate.  A non-positive elapsed time yields
// zero rather than a division by zero.
func hashesPerSec(iterations int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(iterations) / elapsed.Seconds()
}

// setHashRate publishes the most recent hash rate measured by the given
// worker.  Each worker only ever writes its own entry.
//
// This function is safe for concurrent access.
func (m *CPUMiner) setHashRate(workerID uint32, hashRate float64) {
	m.Lock()
	m.hashRates[workerID] = hashRate
	m.Unlock()
}

// HashesPerSec returns the sum of the hash rates most recently published by
// all workers.  The value is advisory telemetry: a worker may publish while
// the sum is being taken, in which case the total simply reflects the state
// at the moment of the snapshot.
//
// This function is safe for concurrent access.
func (m *CPUMiner) HashesPerSec() float64 {
	m.Lock()
	defer m.Unlock()

	var total float64
	for _, hashRate := range m.hashRates {
		total += hashRate
	}
	return total
}

// Iterations returns the per-call iteration count the miner is running with.
// The value is only meaningful once Run has frozen it.
func (m *CPUMiner) Iterations() int64 {
	m.Lock()
	defer m.Unlock()
	return m.iterations
}

// generateBlocks is a worker that is controlled by the given context.  It
// repeatedly issues a sized block-generation call against the remote
// endpoint, measures the wall-clock time of each call, and publishes the
// resulting hash rate under its own worker id.
//
// A failed call is a skipped cycle, not a fatal condition: the error is
// logged and the loop continues.  The rate is still published for the cycle
// so the aggregate reflects the attempt rate even while the endpoint is
// unhealthy.
//
// It must be run as a goroutine.
func (m *CPUMiner) generateBlocks(ctx context.Context, workerID uint32) {
	log.Tracef("Starting generate blocks worker %d", workerID)
	defer log.Tracef("Generate blocks worker %d done", workerID)

	iterations := m.Iterations()
	for {
		// Non-blocking check so a stop requested between cycles is
		// honored before issuing another call.
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		blockHashes, err := m.cfg.Generator.GenerateToAddress(1,
			m.cfg.MiningAddr, iterations)
		elapsed := time.Since(start)

		// Exit without publishing when a stop was requested while the
		// call was in flight since the measurement may already be
		// stale.
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			log.Infof("Worker %d: generate call failed: %v",
				workerID, err)
		}

		hashRate := hashesPerSec(iterations, elapsed)
		m.setHashRate(workerID, hashRate)

		if len(blockHashes) > 0 {
			for _, blockHash := range blockHashes {
				log.Infof("Worker %d: block found: %s",
					workerID, blockHash)
			}
			continue
		}
		if err == nil {
			log.Debugf("Worker %d: mining at %.2f hashes/s",
				workerID, hashRate)
		}
	}
}

// speedMonitor handles reporting the total number of hashes per second the
// mining process is performing.  The first report is emitted after an initial
// settling delay and every update interval thereafter until the context is
// cancelled.  No final report is emitted on cancellation.
//
// It must be run as a goroutine.
func (m *CPUMiner) speedMonitor(ctx context.Context) {
	log.Trace("CPU miner speed monitor started")
	defer log.Trace("CPU miner speed monitor done")

	delay := time.NewTimer(hpsInitialDelay)
	defer delay.Stop()
	select {
	case <-delay.C:
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(hpsUpdateInterval)
	defer ticker.Stop()
	for {
		log.Infof("Total hash rate: %.2f hashes/s", m.HashesPerSec())

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Run runs the miner until the passed context is cancelled.  When no
// iteration count was configured it first calibrates one against the
// endpoint, then spawns the configured number of workers along with the
// speed monitor.  On cancellation it waits for every worker to observe the
// stop request and exit, then for the speed monitor, before returning.
// Since workers never abandon an in-flight call, returning can take up to
// one call's duration, which is in turn bounded by the caller's RPC timeout.
func (m *CPUMiner) Run(ctx context.Context) error {
	m.Lock()
	if m.started {
		m.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.Unlock()

	iterations := m.cfg.Iterations
	if iterations <= 0 {
		iterations = m.calibrateIterations(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Lock()
	m.iterations = iterations
	m.Unlock()
	log.Infof("Iterations per request: %d", iterations)

	m.wg.Add(1)
	go func() {
		m.speedMonitor(ctx)
		m.wg.Done()
	}()

	log.Infof("Starting %d mining workers", m.cfg.NumWorkers)
	for i := uint32(0); i < m.cfg.NumWorkers; i++ {
		m.workerWg.Add(1)
		go func(workerID uint32) {
			m.generateBlocks(ctx, workerID)
			m.workerWg.Done()
		}(i)
	}

	m.workerWg.Wait()
	m.wg.Wait()
	return nil
}

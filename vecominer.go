package main

import (
	"context"
	"os"

	"github.com/vecocoin/vecominer/log"
	"github.com/vecocoin/vecominer/mining/cpuminer"
	"github.com/vecocoin/vecominer/rpcclient"
)

var (
	cfg *config

	vecoLog = log.VecoLog
)

func main() {
	// Work around defer not working after os.Exit()
	if err := minerMain(); err != nil {
		os.Exit(1)
	}
}

// minerMain is the real main function for vecominer.  It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is
// called.
func minerMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if log.LogRotator != nil {
			log.LogRotator.Close()
		}
	}()

	// Get a channel that will be closed when a shutdown signal has been
	// triggered from an OS signal such as SIGINT (Ctrl+C).
	interrupt := interruptListener()
	defer vecoLog.Info("Shutdown complete")

	// Show version at startup.
	vecoLog.Infof("Version %s", version())

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	vecoLog.Infof("Connecting to %s://%s", scheme, cfg.rpcServerAddress())
	vecoLog.Infof("Generated block rewards paid to %s", cfg.MiningAddr)

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:       cfg.rpcServerAddress(),
		User:       cfg.RPCUser,
		Pass:       cfg.RPCPass,
		DisableTLS: !cfg.UseSSL,
		Proxy:      cfg.Proxy,
		ProxyUser:  cfg.ProxyUser,
		ProxyPass:  cfg.ProxyPass,
	})
	if err != nil {
		vecoLog.Errorf("Unable to create RPC client: %v", err)
		return err
	}
	defer func() {
		client.Shutdown()
		client.WaitForShutdown()
	}()

	miner := cpuminer.New(&cpuminer.Config{
		Generator:  client,
		MiningAddr: cfg.MiningAddr,
		NumWorkers: cfg.NumWorkers,
		Iterations: cfg.Iterations,
	})

	// The interrupt handler only cancels the context.  All teardown,
	// including joining the workers, runs here in ordinary control flow
	// once the miner returns.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-interrupt
		vecoLog.Info("Stopping miner...  This may take up to one " +
			"in-flight call.")
		cancel()
	}()

	if interruptRequested(interrupt) {
		return nil
	}

	vecoLog.Infof("Starting miner with %d workers", cfg.NumWorkers)
	if err := miner.Run(ctx); err != nil && err != context.Canceled {
		vecoLog.Errorf("Miner terminated: %v", err)
		return err
	}
	vecoLog.Info("Miner stopped successfully")
	return nil
}

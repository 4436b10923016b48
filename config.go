package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"

	"github.com/vecocoin/vecominer/log"
	"github.com/vecocoin/vecominer/mining/cpuminer"
	"github.com/vecocoin/vecominer/rpcclient"
)

const (
	defaultConfigFilename = "vecominer.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "vecominer.log"
	defaultRPCHost        = "127.0.0.1"
	defaultRPCPort        = 26920
)

var (
	defaultHomeDir    = btcutil.AppDataDir("vecominer", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config defines the configuration options for vecominer.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	RPCUser     string `short:"u" long:"rpcuser" description:"RPC username"`
	RPCPass     string `short:"p" long:"rpcpass" default-mask:"-" description:"RPC password"`
	RPCHost     string `long:"rpchost" description:"RPC server host"`
	RPCPort     uint16 `long:"rpcport" description:"RPC server port"`
	MiningAddr  string `short:"a" long:"miningaddr" description:"Address to receive generated block rewards"`
	UseSSL      bool   `short:"s" long:"ssl" description:"Connect to the RPC server using HTTPS instead of HTTP"`
	NumWorkers  uint32 `short:"t" long:"threads" description:"Number of concurrent mining workers (default: one per processor core)"`
	Iterations  int64  `short:"i" long:"iterations" description:"Iterations per request (default: auto-calibrated toward 30-second cycles)"`
	Proxy       string `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser   string `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass   string `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		log.SetLogLevels(debugLevel)
		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "the specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, ok := log.SubsystemLoggers[subsysID]; !ok {
			str := "the specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		log.SetLogLevel(subsysID, logLevel)
	}

	return nil
}

// supportedSubsystems returns a slice of the supported subsystems for logging
// purposes.
func supportedSubsystems() []string {
	subsystems := make([]string, 0, len(log.SubsystemLoggers))
	for subsysID := range log.SubsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	return subsystems
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in functioning properly without any config settings
// while still allowing the user to override settings with config files and
// command line options.  Command line options always take precedence.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		ConfigFile: defaultConfigFile,
		RPCHost:    defaultRPCHost,
		RPCPort:    defaultRPCPort,
		NumWorkers: uint32(runtime.NumCPU()),
		DebugLevel: defaultLogLevel,
		LogDir:     defaultLogDir,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		// The config file is optional unless one was explicitly
		// specified on the command line.
		if _, ok := err.(*os.PathError); !ok ||
			preCfg.ConfigFile != defaultConfigFile {

			fmt.Fprintf(os.Stderr, "Error parsing config "+
				"file: %v\n", err)
			return nil, nil, err
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
		return nil, nil, err
	}

	// The destination address for generated block rewards is the one
	// setting with no usable default.
	if cfg.MiningAddr == "" {
		str := "%s: a mining address is required (use --miningaddr)"
		err := fmt.Errorf(str, appName)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	log.InitLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	rpcclient.UseLogger(log.RpccLog)
	cpuminer.UseLogger(log.MinrLog)

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", appName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}

// rpcServerAddress returns the host:port the RPC client should connect to.
func (cfg *config) rpcServerAddress() string {
	return net.JoinHostPort(cfg.RPCHost, strconv.Itoa(int(cfg.RPCPort)))
}

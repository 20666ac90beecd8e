// Package main implements the leadsync binary that reconciles Airtable
// records into PostgreSQL for one tenant.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/uysp/leadsync/internal/airtable"
	"github.com/uysp/leadsync/internal/db"
	"github.com/uysp/leadsync/internal/log"
	"github.com/uysp/leadsync/internal/sync"
)

// Config holds the application configuration
type Config struct {
	PostgresDSN    string `short:"p" env:"LEADSYNC_POSTGRES_DSN" long:"postgres-dsn" description:"PostgreSQL connection string"`
	AirtableAPIKey string `short:"k" env:"LEADSYNC_AIRTABLE_API_KEY" long:"airtable-api-key" description:"Airtable personal access token"`
	TenantID       string `short:"t" env:"LEADSYNC_TENANT_ID" long:"tenant-id" description:"Tenant UUID to sync"`
	DryRun         bool   `long:"dry-run" description:"Report what would change without writing"`
	SkipBackfill   bool   `long:"skip-backfill" description:"Skip the campaign link backfill after sync"`
	LogLevel       string `short:"l" env:"LEADSYNC_LOG_LEVEL" long:"log-level" description:"Log level: debug|info|warn|error" default:"info"`
	Version        bool   `short:"v" long:"version" description:"Show version information"`
	Help           bool
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes: 0 for a fully clean run, 1 when the run finished but not
// cleanly (partial_success or failed), 2 for hard errors that prevented a
// run (bad flags, unknown tenant, lock contention, connection failures).
const (
	exitOK        = 0
	exitNotClean  = 1
	exitHardError = 2
)

// ParseCLI parses command-line arguments and returns the configuration
func ParseCLI(args []string) (cmdOpts *Config, err error) {
	cmdOpts = new(Config)
	parser := flags.NewParser(cmdOpts, flags.HelpFlag)
	parser.SubcommandsOptional = true
	nonParsedArgs, err := parser.ParseArgs(args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			cmdOpts.Help = true
		}
		if !flags.WroteHelp(err) {
			parser.WriteHelp(os.Stdout)
		}
		return cmdOpts, err
	}
	if len(nonParsedArgs) > 0 { // we don't expect any non-parsed arguments
		return cmdOpts, fmt.Errorf("unknown argument(s): %v", nonParsedArgs)
	}
	return
}

// ShowVersion prints version information and exits
func ShowVersion() {
	fmt.Printf("leadsync version %s\n", version)
	if commit != "none" && commit != "" {
		fmt.Printf("commit: %s\n", commit)
	}
	if date != "unknown" && date != "" {
		fmt.Printf("built: %s\n", date)
	}
}

// SetupLogging configures the logging system with structured output
func SetupLogging(logLevel string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(log.NewFormatter(false))

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"pid":     os.Getpid(),
	}).Info("leadsync logging initialized")

	return nil
}

// SetupCloseHandler creates a 'listener' on a new goroutine which will notify the
// program if it receives an interrupt from the OS. We then handle this by calling
// our clean up procedure and exiting the program.
func SetupCloseHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logrus.Debug("SetupCloseHandler received an interrupt from OS. Closing session...")
		cancel()
	}()
}

func run(ctx context.Context, config *Config) int {
	tenantID, err := uuid.Parse(config.TenantID)
	if err != nil {
		logrus.WithError(err).Error("Invalid tenant id")
		return exitHardError
	}

	pgPool, err := db.NewWithRetry(ctx, config.PostgresDSN)
	if err != nil {
		logrus.WithError(err).Error("Failed to connect to PostgreSQL after retries")
		return exitHardError
	}
	defer pgPool.Close()

	migConn, err := db.Connect(ctx, config.PostgresDSN)
	if err != nil {
		logrus.WithError(err).Error("Failed to open migration connection")
		return exitHardError
	}
	if err := db.ApplyMigrations(ctx, migConn); err != nil {
		logrus.WithError(err).Error("Failed to apply migrations")
		return exitHardError
	}
	_ = migConn.Close(ctx)

	// Advisory locks are session scoped, so the locker gets its own connection.
	lockConn, err := db.Connect(ctx, config.PostgresDSN)
	if err != nil {
		logrus.WithError(err).Error("Failed to open lock connection")
		return exitHardError
	}
	defer lockConn.Close(ctx)

	syncCfg := sync.DefaultConfig()
	syncCfg.SkipBackfill = config.SkipBackfill
	service := sync.NewService(
		pgPool,
		airtable.NewClient(config.AirtableAPIKey),
		sync.NewAdvisoryLocker(lockConn),
		syncCfg,
	)

	report, err := service.Sync(ctx, tenantID, config.DryRun)
	if err != nil {
		if errors.Is(err, sync.ErrLockContention) {
			logrus.WithField("tenant", tenantID).Warn("Sync already in progress, nothing to do")
		} else {
			logrus.WithError(err).Error("Sync failed to run")
		}
		return exitHardError
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logrus.WithError(err).Error("Failed to serialize report")
		return exitHardError
	}
	fmt.Println(string(out))

	if report.Success {
		return exitOK
	}
	return exitNotClean
}

func main() {
	// Quick check for version flags before full parsing
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			ShowVersion()
			os.Exit(0)
		}
	}

	config, err := ParseCLI(os.Args[1:])
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}

	if err := SetupLogging(config.LogLevel); err != nil {
		logrus.WithError(err).Fatal("Failed to setup logging")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	SetupCloseHandler(cancel)

	os.Exit(run(ctx, config))
}

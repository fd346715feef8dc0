// Package main implements the netchunk CLI, per spec.md §6.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/netchunk/netchunk/pkg/config"
	"github.com/netchunk/netchunk/pkg/logging"
	"github.com/netchunk/netchunk/pkg/orchestrator"
	"github.com/netchunk/netchunk/pkg/repair"
	"github.com/netchunk/netchunk/pkg/transport"
)

var (
	// Flags.
	configPath string
	verbose    bool
	quiet      bool
	showStats  bool
	repairFlag bool
)

// Build-time variables set by ldflags.
var (
	version   = "dev"
	buildTime = "unknown"
)

// Exit codes, per spec.md §6: 0 success, 1 any error.
const (
	exitOK    = 0
	exitError = 1
)

// die prints its arguments to stderr and exits with exitError.
func die(args ...interface{}) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(exitError)
}

// env bundles everything a command needs once the config file has
// been loaded: the orchestrator (chunker/placement/transport/manifest)
// and the repair engine, sharing one connection pool.
type env struct {
	cfg    *config.Config
	log    *logging.Logger
	orch   *orchestrator.Orchestrator
	repair *repair.Engine
}

func newEnv() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.General.LogLevel
	if verbose {
		level = "debug"
	}
	if quiet {
		level = "error"
	}
	log, err := logging.New(cfg.General.LogFile, level)
	if err != nil {
		return nil, err
	}

	dial := func(ctx context.Context, srv config.ServerDescriptor) (transport.Client, error) {
		return transport.DialFTP(ctx, srv, cfg.General.FTPTimeout)
	}
	orch := orchestrator.New(cfg, dial, log)
	engine := repair.New(orch.Pool, orch.Servers, orch.ReplicationFactor, log)

	return &env{cfg: cfg, log: log, orch: orch, repair: engine}, nil
}

func (e *env) Close() {
	e.orch.Pool.CloseAll()
	e.log.Close()
}

func printStats(s *orchestrator.Stats) {
	if !showStats || s == nil {
		return
	}
	fmt.Printf("bytes=%d chunks=%d servers=%d retries=%d\n",
		s.Bytes, s.ChunkCount, s.ServerCount(), s.Retries)
}

func main() {
	root := &cobra.Command{
		Use:   "netchunk",
		Short: "netchunk: a replicated FTP-backed object store",
		Long:  "netchunk turns a set of FTP/FTPS endpoints into one replicated object store: files are chunked, content-addressed, fanned out to R servers, and later verified/repaired/rebalanced.",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "netchunk.ini", "path to the INI configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose (debug-level) logging")
	root.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "quiet (error-level only) logging")
	root.PersistentFlags().BoolVarP(&showStats, "stats", "s", false, "print operation statistics")
	root.PersistentFlags().BoolVarP(&repairFlag, "repair", "r", false, "repair mode (verify --repair shorthand)")

	root.AddCommand(uploadCmd, downloadCmd, listCmd, deleteCmd, verifyCmd, healthCmd, versionCmd)

	if err := root.Execute(); err != nil {
		die(err)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("netchunk %s (built %s)\n", version, buildTime)
	},
}

// Command vertexctl is the engine's administrative CLI: offline inspection
// and maintenance operations against a data directory (stats, checkpoint,
// compact, inspect-wal). It does not speak the graph query language — that
// surface is out of scope here, same as spec.md's Non-goals exclude a
// client-facing query CLI.
package main

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/cuemby/vertexdb/pkg/config"
	"github.com/cuemby/vertexdb/pkg/log"
)

var (
	// Version information, set via ldflags during build.
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vertexctl",
	Short: "vertexctl administers a vertexdb data directory",
	Long: `vertexctl is an offline administrative tool for a vertexdb data
directory: it reports per-keyspace key counts, writes checkpoints,
compacts the keyspace file, and inspects the write-ahead log. It never
opens a live transaction against a running server.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"vertexctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().String("data-dir", "", "override config data_dir")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(inspectWALCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: jsonOutput,
	})
}

// loadConfig resolves --config/--data-dir against pkg/config, the same
// precedence Load itself applies (file, then environment), with the
// command-line flag taking final precedence over both.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// acquireLock guards a data directory against a concurrently running
// server process for the duration of a maintenance command.
func acquireLock(cfg config.Config) (*flock.Flock, error) {
	lock, err := config.AcquireDirectoryLock(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w (another vertexdb process may be using %s)", err, cfg.DataDir)
	}
	return lock, nil
}

func releaseLock(lock *flock.Flock) {
	_ = config.ReleaseDirectoryLock(lock)
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/vertexdb/pkg/log"
	"github.com/cuemby/vertexdb/pkg/mvcc"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Write a checkpoint recording the current watermark",
	Long: `checkpoint opens the data directory's storage engine just long
enough to replay its WAL and determine the current watermark, then writes
that watermark to <checkpoint-dir>/checkpoint.json so the next startup can
skip replaying WAL records already known committed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		lock, err := acquireLock(cfg)
		if err != nil {
			return err
		}
		defer releaseLock(lock)

		storage, err := mvcc.Open(mvcc.Config{
			Name:               "data",
			DataDir:            cfg.DataDir,
			WALDir:             cfg.WALDir,
			CheckpointDir:      cfg.CheckpointDir,
			TimelineWindowSize: cfg.TimelineWindowSize,
			Logger:             log.WithComponent("vertexctl"),
		})
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer storage.Close()

		watermark := storage.Watermark()
		if err := storage.WriteCheckpoint(cfg.CheckpointDir, watermark); err != nil {
			return fmt.Errorf("write checkpoint: %w", err)
		}
		fmt.Printf("checkpoint written at watermark %d\n", watermark)
		return nil
	},
}

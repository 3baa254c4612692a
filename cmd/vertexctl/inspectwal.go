package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/vertexdb/pkg/log"
	"github.com/cuemby/vertexdb/pkg/seqnum"
	"github.com/cuemby/vertexdb/pkg/wal"
)

var inspectWALCmd = &cobra.Command{
	Use:   "inspect-wal",
	Short: "Print every record in the write-ahead log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		from, _ := cmd.Flags().GetUint64("from")

		walLog, err := wal.Open(cfg.WALDir, wal.Options{}, log.WithComponent("vertexctl"))
		if err != nil {
			return fmt.Errorf("open WAL: %w", err)
		}
		defer walLog.Close()

		count := 0
		err = walLog.Iterate(seqnum.Number(from), func(r wal.Record) (bool, error) {
			printRecord(r)
			count++
			return true, nil
		})
		if err != nil {
			return fmt.Errorf("iterate WAL: %w", err)
		}
		fmt.Printf("%d records\n", count)
		return nil
	},
}

func printRecord(r wal.Record) {
	switch {
	case r.Commit != nil:
		writeCount := 0
		for _, id := range r.Commit.Buffer.Keyspaces() {
			writeCount += len(r.Commit.Buffer.Writes(id))
		}
		fmt.Printf("seq=%d commit type=%v open_seq=%d writes=%d\n",
			r.Sequence, r.Commit.CommitType, r.Commit.OpenSequenceNumber, writeCount)
	case r.Status != nil:
		fmt.Printf("status commit_seq=%d committed=%v\n",
			r.Status.CommitSequenceNumber, r.Status.WasCommitted)
	}
}

func init() {
	inspectWALCmd.Flags().Uint64("from", 0, "only print records at or after this sequence number")
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/vertexdb/pkg/keyspace"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report per-keyspace key counts for a data directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		store, err := keyspace.Open(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open keyspace store: %w", err)
		}
		defer store.Close()

		for _, id := range keyspace.All() {
			count := 0
			if err := store.IteratePrefix(id, nil, func(key, value []byte) (bool, error) {
				count++
				return true, nil
			}); err != nil {
				return fmt.Errorf("iterate %s: %w", id.Name(), err)
			}
			fmt.Printf("%-8s %d keys\n", id.Name(), count)
		}
		return nil
	},
}

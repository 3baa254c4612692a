package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/vertexdb/pkg/keyspace"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Rewrite the keyspace file to reclaim space from deleted pages",
	Long: `compact copies every bucket of keyspace.db into a fresh file
bucket-by-bucket, then atomically replaces the original. This reclaims the
free pages bbolt accumulates from deletes and overwrites; it does not
change any stored data.`,
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

		srcPath := filepath.Join(cfg.DataDir, "keyspace.db")
		dstPath := srcPath + ".compact"

		if err := compactDB(srcPath, dstPath); err != nil {
			_ = os.Remove(dstPath)
			return err
		}
		if err := os.Rename(dstPath, srcPath); err != nil {
			return fmt.Errorf("compact: replace %s: %w", srcPath, err)
		}
		fmt.Printf("compacted %s\n", srcPath)
		return nil
	},
}

func compactDB(srcPath, dstPath string) error {
	src, err := bolt.Open(srcPath, 0o600, nil)
	if err != nil {
		return fmt.Errorf("compact: open source: %w", err)
	}
	defer src.Close()

	dst, err := bolt.Open(dstPath, 0o600, nil)
	if err != nil {
		return fmt.Errorf("compact: create destination: %w", err)
	}
	defer dst.Close()

	return src.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			for _, id := range keyspace.All() {
				srcBucket := srcTx.Bucket([]byte(id.Name()))
				if srcBucket == nil {
					continue
				}
				dstBucket, err := dstTx.CreateBucketIfNotExists([]byte(id.Name()))
				if err != nil {
					return fmt.Errorf("compact: create bucket %s: %w", id.Name(), err)
				}
				// A high fill percent packs pages densely since this bucket
				// is written once, sequentially, rather than updated in place.
				dstBucket.FillPercent = 0.9

				if err := srcBucket.ForEach(func(k, v []byte) error {
					return dstBucket.Put(k, v)
				}); err != nil {
					return fmt.Errorf("compact: copy bucket %s: %w", id.Name(), err)
				}
			}
			return nil
		})
	})
}

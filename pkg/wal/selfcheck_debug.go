//go:build vertexdb_debug

package wal

import (
	"bytes"
	"fmt"
)

// debugSelfCheck gates the commit-record round-trip self-check described
// in original_source/storage/isolation_manager.rs's
// CommitRecord::serialise_into (a debug_assert_eq! there). It only runs
// when the module is built with -tags vertexdb_debug, never in production
// builds.
const debugSelfCheck = true

// selfCheckCommitRecord re-decodes payload and re-encodes the result,
// failing if the two encodings disagree — catching any asymmetry between
// encodeCommitRecord and decodeCommitRecord during development.
func selfCheckCommitRecord(cr *CommitRecord, payload []byte) error {
	decoded, err := decodeCommitRecord(payload)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	roundTripped := encodeCommitRecord(decoded)
	if !bytes.Equal(payload, roundTripped) {
		return fmt.Errorf("commit record does not round-trip: %d bytes in, %d bytes out", len(payload), len(roundTripped))
	}
	return nil
}

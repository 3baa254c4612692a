//go:build !vertexdb_debug

package wal

// debugSelfCheck disables the commit-record round-trip self-check in
// ordinary builds; see selfcheck_debug.go.
const debugSelfCheck = false

func selfCheckCommitRecord(cr *CommitRecord, payload []byte) error { return nil }

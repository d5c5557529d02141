package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"dex-trade-agent/internal/domain"
)

// ComputeEntryID computes a deterministic trade log entry ID using SHA256.
// Formula: SHA256(timestamp_ms|action|symbol|outcome|reason|tx_hash|instance|seq)
// instance identifies the recording process and seq counts entries within
// it, so attempts in the same millisecond stay distinct across restarts.
// Returns hex-encoded hash (64 characters).
func ComputeEntryID(
	timestampMs int64,
	action domain.Action,
	symbol string,
	outcome domain.Outcome,
	reason string,
	txHash string,
	instance string,
	seq uint64,
) string {
	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%d",
		timestampMs,
		string(action),
		symbol,
		string(outcome),
		reason,
		txHash,
		instance,
		seq,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

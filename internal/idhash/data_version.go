package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ComputeDataVersion computes a deterministic data fingerprint using SHA256.
// Formula: SHA256(sorted(parts) joined by "|"), truncated to 16 hex chars.
// Parts are descriptors of the run inputs (symbol, row counts, time bounds).
func ComputeDataVersion(parts []string) string {
	sorted := make([]string, len(parts))
	copy(sorted, parts)
	sort.Strings(sorted)

	hash := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(hash[:])[:16]
}

// ComputeConfigHash computes a deterministic hash of the canonical config
// encoding. Returns hex-encoded SHA256 truncated to 16 chars.
func ComputeConfigHash(encoded []byte) string {
	hash := sha256.Sum256(encoded)
	return hex.EncodeToString(hash[:])[:16]
}

// ComputeManifestHash computes a deterministic hash of the raw
// preregistration manifest bytes. Returns hex-encoded SHA256 (64 chars)
// so the full manifest identity is preserved in run records.
func ComputeManifestHash(raw []byte) string {
	hash := sha256.Sum256(raw)
	return hex.EncodeToString(hash[:])
}

// ComputeHypothesisSeed derives a deterministic permutation seed for one
// hypothesis from the base seed.
// Formula: first 8 bytes (big-endian, sign bit cleared) of
// SHA256(base_seed|feature|lag_min).
//
// Each hypothesis gets its own generator so parallel execution reproduces
// sequential results regardless of scheduling order.
func ComputeHypothesisSeed(baseSeed int64, feature string, lagMin int) int64 {
	data := fmt.Sprintf("%d|%s|%d", baseSeed, feature, lagMin)
	hash := sha256.Sum256([]byte(data))

	var seed int64
	for i := 0; i < 8; i++ {
		seed = seed<<8 | int64(hash[i])
	}
	if seed < 0 {
		seed = -seed
	}
	return seed
}

// Package diff models binary deltas between app versions and applies them
// with integrity checks.
package diff

import (
	"github.com/opencontainers/go-digest"
)

// Diff describes one bsdiff payload transforming a known source file into a
// known target file.
type Diff struct {
	// DiffID is the stable identifier of the payload in the diff repository.
	DiffID string `json:"diff_name"`
	// FileName is the name the payload is stored under once downloaded.
	FileName string `json:"file_name"`
	// FileCRC is the expected CRC32 (IEEE, the ZIP polynomial) of the
	// pre-patch file. A mismatch means the local file is not in the base
	// state the diff was built against.
	FileCRC uint32 `json:"file_crc"`
	// OutputDigest optionally pins the post-patch output. Empty when the
	// repository publishes no target digest.
	OutputDigest digest.Digest `json:"output_digest,omitempty"`
}

// VersionDiffs describes the full transformation from one app version to
// another: one diff for the APK plus one per asset bundle, in order.
// Immutable once obtained from the diff repository.
type VersionDiffs struct {
	FromVersion string `json:"from_version"`
	ToVersion   string `json:"to_version"`
	ApkDiff     Diff   `json:"apk_diff"`
	ObbDiffs    []Diff `json:"obb_diffs"`
}

package diff

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/gabstv/go-bsdiff/pkg/bspatch"
	"github.com/opencontainers/go-digest"
	log "github.com/sirupsen/logrus"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/mbferror"
)

// bsdiff payloads start with this magic followed by the control lengths.
var bsdiffMagic = []byte("BSDIFF40")

// Apply loads the payload for d from diffsDir, verifies that the file at
// fromPath matches the diff's expected CRC32, and streams the patched result
// into a freshly created toPath.
//
// On a checksum mismatch the returned error wraps
// mbferror.ErrUnexpectedSourceContent so callers can tell a corrupted or
// illegitimate installation apart from plain I/O failures. On any failure the
// destination may be partially written and must be treated as invalid.
func Apply(fromPath, toPath string, d Diff, diffsDir string) error {
	patchContent, err := os.ReadFile(filepath.Join(diffsDir, d.FileName))
	if err != nil {
		return fmt.Errorf("%w: `%s` (was it downloaded?): %s", mbferror.ErrDiffNotDownloaded, d.FileName, err)
	}
	if len(patchContent) < len(bsdiffMagic) || !bytes.Equal(patchContent[:len(bsdiffMagic)], bsdiffMagic) {
		return fmt.Errorf("%w: `%s`", mbferror.ErrMalformedPatch, d.FileName)
	}

	fileContent, err := os.ReadFile(fromPath)
	if err != nil {
		return fmt.Errorf("could not read file to patch `%s`: %w", fromPath, err)
	}

	log.Info("Verifying installation is unmodified")
	beforeCRC := crc32.ChecksumIEEE(fileContent)
	if beforeCRC != d.FileCRC {
		return fmt.Errorf("%w: CRC %d of `%s` did not match expected value %d; is the file corrupt, or is the game pirated?",
			mbferror.ErrUnexpectedSourceContent, beforeCRC, fromPath, d.FileCRC)
	}

	out, err := os.Create(toPath)
	if err != nil {
		return fmt.Errorf("could not create output file `%s`: %w", toPath, err)
	}
	patchErr := bspatch.Reader(bytes.NewReader(fileContent), out, bytes.NewReader(patchContent))
	closeErr := out.Close()
	if patchErr != nil {
		return fmt.Errorf("%w: applying `%s` failed: %s", mbferror.ErrMalformedPatch, d.FileName, patchErr)
	}
	if closeErr != nil {
		return fmt.Errorf("could not flush output file `%s`: %w", toPath, closeErr)
	}

	if d.OutputDigest != "" {
		if err := verifyOutput(toPath, d.OutputDigest); err != nil {
			return err
		}
	}
	return nil
}

// verifyOutput checks the patched file against the digest published by the
// diff repository, when one is available.
func verifyOutput(path string, expected digest.Digest) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("could not reopen patched file `%s`: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	actual, err := expected.Algorithm().FromReader(f)
	if err != nil {
		return fmt.Errorf("could not digest patched file `%s`: %w", path, err)
	}
	if actual != expected {
		return fmt.Errorf("%w: got %s, want %s", mbferror.ErrPatchOutputDigest, actual, expected)
	}
	return nil
}

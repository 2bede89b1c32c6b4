// Package fetcher downloads diff payloads from the diff repository with
// bounded retry and progress reporting.
package fetcher

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/diff"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/utils/funcutils"
)

// progressInterval is the minimum wall-clock time between two progress
// callback invocations.
const progressInterval = 2 * time.Second

// ProgressFunc receives download progress as a percentage in [0, 100].
type ProgressFunc func(percent float64)

// DiffSource opens a streaming response for one diff payload. The returned
// length is negative when the repository declares no total size.
type DiffSource interface {
	GetDiffReader(d diff.Diff) (body io.ReadCloser, length int64, err error)
}

type Fetcher struct {
	source   DiffSource
	attempts int
}

func New(source DiffSource, attempts int) *Fetcher {
	return &Fetcher{source: source, attempts: attempts}
}

// FetchRetry attempts to download the diff up to the configured number of
// times. Intermediate failures are logged and swallowed; the last failure is
// returned unchanged. There is no backoff between attempts.
func (f *Fetcher) FetchRetry(d diff.Diff, toDir string, progress ProgressFunc) error {
	attempt := 1
	for {
		err := f.Fetch(d, toDir, progress)
		if err == nil {
			return nil
		}
		if attempt == f.attempts {
			return err
		}
		log.Errorf("Failed to download %s: %s\nTrying again...", d.DiffID, err)
		attempt++
	}
}

// Fetch downloads one diff payload to <toDir>/<FileName>, creating or
// truncating the output file. Progress is reported no more often than every
// two seconds when the repository declares a total length; without a length
// the copy proceeds with a warning instead of progress.
//
// A payload already present with a matching fingerprint sidecar is not
// downloaded again.
func (f *Fetcher) Fetch(d diff.Diff, toDir string, progress ProgressFunc) error {
	outPath := filepath.Join(toDir, d.FileName)
	if skippable, err := matchesSidecar(outPath); err == nil && skippable {
		log.Infof("Diff %s already downloaded, skipping", d.DiffID)
		return nil
	}

	output, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("could not create output for diff %s: %w", d.DiffID, err)
	}
	defer funcutils.PanicOrLogOnErr(output.Close, false, "failed to close diff output file")

	body, length, err := f.source.GetDiffReader(d)
	if err != nil {
		return fmt.Errorf("could not open stream for diff %s: %w", d.DiffID, err)
	}
	defer funcutils.PanicOrLogOnErr(body.Close, false, "failed to close diff response body")

	hasher := xxhash.New()
	tee := io.TeeReader(body, hasher)

	if length > 0 {
		err = copyWithProgress(output, tee, func(bytesCopied int64) {
			if progress != nil {
				progress(float64(bytesCopied) / float64(length) * 100)
			}
		}, time.Now)
	} else {
		// A declared length of zero leaves nothing to report progress on.
		if length < 0 {
			log.Warn("Diff repository returned no Content-Length, so cannot show download progress")
		}
		_, err = io.Copy(output, tee)
	}
	if err != nil {
		return fmt.Errorf("could not download diff %s: %w", d.DiffID, err)
	}

	if err := writeSidecar(outPath, hasher.Sum64()); err != nil {
		// Only the skip optimization is lost; the download itself succeeded.
		log.Errorf("Failed to record fingerprint for %s: %s", d.FileName, err)
	}
	return nil
}

// copyWithProgress copies src to dst, invoking onProgress with the running
// byte count at most once per progressInterval. The clock is injected so the
// throttle can be tested without waiting out real intervals.
func copyWithProgress(dst io.Writer, src io.Reader, onProgress func(bytesCopied int64), now func() time.Time) error {
	buf := make([]byte, 32*1024)
	var copied int64
	lastUpdate := now()
	for {
		nRead, readErr := src.Read(buf)
		if nRead > 0 {
			nWritten, writeErr := dst.Write(buf[:nRead])
			if writeErr != nil {
				return writeErr
			}
			if nWritten < nRead {
				return io.ErrShortWrite
			}
			copied += int64(nWritten)
			if t := now(); t.Sub(lastUpdate) > progressInterval {
				lastUpdate = t
				onProgress(copied)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// sidecarPath is where the fingerprint of a fully downloaded payload lives.
func sidecarPath(payloadPath string) string {
	return payloadPath + ".xxh64"
}

func writeSidecar(payloadPath string, sum uint64) error {
	var encoded [8]byte
	for i := range encoded {
		encoded[i] = byte(sum >> (56 - 8*i))
	}
	return os.WriteFile(sidecarPath(payloadPath), []byte(hex.EncodeToString(encoded[:])), 0600)
}

// matchesSidecar reports whether the payload at payloadPath exists and its
// xxhash matches the recorded fingerprint from a previous complete download.
func matchesSidecar(payloadPath string) (bool, error) {
	recorded, err := os.ReadFile(sidecarPath(payloadPath))
	if err != nil {
		return false, err
	}
	f, err := os.Open(payloadPath)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = f.Close()
	}()
	hasher := xxhash.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return false, err
	}
	var encoded [8]byte
	sum := hasher.Sum64()
	for i := range encoded {
		encoded[i] = byte(sum >> (56 - 8*i))
	}
	return string(recorded) == hex.EncodeToString(encoded[:]), nil
}

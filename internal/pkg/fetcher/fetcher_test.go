package fetcher

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/diff"
)

// flakySource fails a fixed number of attempts before serving the payload.
type flakySource struct {
	payload    []byte
	failures   int
	calls      int
	declareLen bool
}

func (s *flakySource) GetDiffReader(_ diff.Diff) (io.ReadCloser, int64, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, -1, errors.New("connection reset")
	}
	length := int64(-1)
	if s.declareLen {
		length = int64(len(s.payload))
	}
	return io.NopCloser(bytes.NewReader(s.payload)), length, nil
}

func TestFetchRetry(t *testing.T) {
	d := diff.Diff{DiffID: "apk-1.0-to-0.9", FileName: "apk.bsdiff"}
	payload := []byte("payload bytes")

	tests := []struct {
		name      string
		failures  int
		wantErr   bool
		wantCalls int
	}{
		{name: "first attempt succeeds", failures: 0, wantCalls: 1},
		{name: "third attempt succeeds, no fourth made", failures: 2, wantCalls: 3},
		{name: "all attempts fail, last error returned", failures: 3, wantErr: true, wantCalls: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			source := &flakySource{payload: payload, failures: tt.failures, declareLen: true}
			f := New(source, 3)
			err := f.FetchRetry(d, dir, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FetchRetry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if source.calls != tt.wantCalls {
				t.Errorf("FetchRetry() made %d attempts, want %d", source.calls, tt.wantCalls)
			}
			if tt.wantErr {
				return
			}
			got, err := os.ReadFile(filepath.Join(dir, d.FileName))
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("FetchRetry() stored %q, want %q", got, payload)
			}
		})
	}
}

func TestFetchSkipsCompleteDownload(t *testing.T) {
	d := diff.Diff{DiffID: "obb-diff", FileName: "obb.bsdiff"}
	dir := t.TempDir()
	source := &flakySource{payload: []byte("obb delta"), declareLen: true}
	f := New(source, 3)

	if err := f.Fetch(d, dir, nil); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if err := f.Fetch(d, dir, nil); err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if source.calls != 1 {
		t.Errorf("second Fetch() re-downloaded a complete payload (%d source calls)", source.calls)
	}
}

func TestFetchRedownloadsTruncatedPayload(t *testing.T) {
	d := diff.Diff{DiffID: "obb-diff", FileName: "obb.bsdiff"}
	dir := t.TempDir()
	source := &flakySource{payload: []byte("obb delta"), declareLen: true}
	f := New(source, 3)

	if err := f.Fetch(d, dir, nil); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	// Corrupt the stored payload; the fingerprint no longer matches.
	if err := os.WriteFile(filepath.Join(dir, d.FileName), []byte("obb"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := f.Fetch(d, dir, nil); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if source.calls != 2 {
		t.Errorf("Fetch() did not re-download a corrupted payload (%d source calls)", source.calls)
	}
	got, err := os.ReadFile(filepath.Join(dir, d.FileName))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, source.payload) {
		t.Errorf("Fetch() stored %q, want %q", got, source.payload)
	}
}

// chunkedReader yields its payload one fixed-size chunk per Read call.
type chunkedReader struct {
	data      []byte
	chunkSize int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.chunkSize
	if n > len(r.data) || n > len(p) {
		n = min(len(r.data), len(p))
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestCopyWithProgressThrottle(t *testing.T) {
	tests := []struct {
		name          string
		chunks        int
		stepPerChunk  time.Duration
		wantCallbacks int
	}{
		// Every chunk arrives a full interval and a bit apart.
		{name: "slow stream reports each chunk", chunks: 3, stepPerChunk: progressInterval + time.Second, wantCallbacks: 3},
		// Chunks arrive every 1.5s: only every other one crosses the interval.
		{name: "fast stream is throttled", chunks: 4, stepPerChunk: 1500 * time.Millisecond, wantCallbacks: 2},
		{name: "instantaneous stream reports nothing", chunks: 4, stepPerChunk: 0, wantCallbacks: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const chunkSize = 8
			src := &chunkedReader{data: bytes.Repeat([]byte{0x42}, tt.chunks*chunkSize), chunkSize: chunkSize}

			clock := time.Unix(0, 0)
			var reported []int64
			err := copyWithProgress(io.Discard, src, func(bytesCopied int64) {
				reported = append(reported, bytesCopied)
			}, func() time.Time {
				// Advances once per clock read inside the copy loop.
				clock = clock.Add(tt.stepPerChunk)
				return clock
			})
			if err != nil {
				t.Fatalf("copyWithProgress() error = %v", err)
			}
			if len(reported) != tt.wantCallbacks {
				t.Errorf("got %d progress callbacks (%v), want %d", len(reported), reported, tt.wantCallbacks)
			}
		})
	}
}

func TestFetchZeroLength(t *testing.T) {
	d := diff.Diff{DiffID: "empty", FileName: "empty.bsdiff"}
	dir := t.TempDir()
	source := &flakySource{payload: nil, declareLen: true}
	f := New(source, 3)

	progressCalls := 0
	if err := f.Fetch(d, dir, func(float64) { progressCalls++ }); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if progressCalls != 0 {
		t.Errorf("Fetch() reported progress for an empty payload")
	}
	got, err := os.ReadFile(filepath.Join(dir, d.FileName))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("Fetch() stored %d bytes for an empty payload", len(got))
	}
}

func TestFetchWithoutLength(t *testing.T) {
	d := diff.Diff{DiffID: "no-length", FileName: "nolen.bsdiff"}
	dir := t.TempDir()
	source := &flakySource{payload: []byte("stream with unknown size")}
	f := New(source, 3)

	progressCalls := 0
	err := f.Fetch(d, dir, func(float64) { progressCalls++ })
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if progressCalls != 0 {
		t.Errorf("Fetch() reported progress without a declared length")
	}
	got, err := os.ReadFile(filepath.Join(dir, d.FileName))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, source.payload) {
		t.Errorf("Fetch() stored %q, want %q", got, source.payload)
	}
}

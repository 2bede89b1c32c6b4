// Package apk provides the mutable ZIP container an APK is edited through.
//
// Entries are held in memory between Open and SaveAndSignV2; the container
// on disk is only rewritten once, atomically with the signature, so a
// failed pipeline never leaves a half-written APK behind.
package apk

import (
	"archive/zip"
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/flate"
	"github.com/samber/lo"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/apk/signing"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/mbferror"
)

// Compression selects the per-entry storage method.
type Compression int

const (
	Store Compression = iota
	Deflate
)

type zipEntry struct {
	name   string
	data   []byte
	method uint16
}

// ZipFile is one opened, writable container. Not safe for concurrent use;
// a pipeline run owns it exclusively.
type ZipFile struct {
	path      string
	entries   []*zipEntry
	finalized bool
}

// Open reads the whole container at path into memory. A container that does
// not parse is fatal to the mutation.
func Open(path string) (*ZipFile, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: `%s`: %s", mbferror.ErrMalformedContainer, path, err)
	}
	defer func() {
		_ = reader.Close()
	}()

	z := &ZipFile{path: path}
	for _, f := range reader.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: could not open entry `%s`: %s", mbferror.ErrMalformedContainer, f.Name, err)
		}
		data, readErr := io.ReadAll(rc)
		closeErr := rc.Close()
		if readErr != nil {
			return nil, fmt.Errorf("%w: could not read entry `%s`: %s", mbferror.ErrMalformedContainer, f.Name, readErr)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("%w: could not close entry `%s`: %s", mbferror.ErrMalformedContainer, f.Name, closeErr)
		}
		z.entries = append(z.entries, &zipEntry{name: f.Name, data: data, method: f.Method})
	}
	return z, nil
}

// ContainsEntry reports whether an entry with the given name exists.
func (z *ZipFile) ContainsEntry(name string) bool {
	return z.find(name) != nil
}

// ReadEntry returns a copy of the named entry's contents.
func (z *ZipFile) ReadEntry(name string) ([]byte, error) {
	e := z.find(name)
	if e == nil {
		return nil, fmt.Errorf("%w: `%s`", mbferror.ErrEntryNotFound, name)
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

// DeleteEntry removes the named entry if present.
func (z *ZipFile) DeleteEntry(name string) error {
	if z.finalized {
		return mbferror.ErrContainerFinalized
	}
	z.entries = lo.Filter(z.entries, func(e *zipEntry, _ int) bool { return e.name != name })
	return nil
}

// WriteEntry stores an entry under the given name, replacing any existing
// one in place.
func (z *ZipFile) WriteEntry(name string, r io.Reader, compression Compression) error {
	if z.finalized {
		return mbferror.ErrContainerFinalized
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("could not read contents for entry `%s`: %w", name, err)
	}
	method := uint16(zip.Store)
	if compression == Deflate {
		method = zip.Deflate
	}
	if existing := z.find(name); existing != nil {
		existing.data = data
		existing.method = method
		return nil
	}
	z.entries = append(z.entries, &zipEntry{name: name, data: data, method: method})
	return nil
}

// EntryNames returns all entry names in container order.
func (z *ZipFile) EntryNames() []string {
	return lo.Map(z.entries, func(e *zipEntry, _ int) string { return e.name })
}

// SaveAndSignV2 serializes the container, applies a v2 whole-package
// signature and writes the result back to the original path. The handle is
// consumed: any further edit returns ErrContainerFinalized, since a write
// after signing would invalidate the signature.
func (z *ZipFile) SaveAndSignV2(cert *x509.Certificate, key *rsa.PrivateKey) error {
	if z.finalized {
		return mbferror.ErrContainerFinalized
	}
	unsigned, err := z.serialize()
	if err != nil {
		return err
	}
	signed, err := signing.SignV2(unsigned, cert, key)
	if err != nil {
		return fmt.Errorf("could not sign container: %w", err)
	}
	if err := os.WriteFile(z.path, signed, 0600); err != nil {
		return fmt.Errorf("could not write signed container to `%s`: %w", z.path, err)
	}
	z.finalized = true
	return nil
}

// serialize writes all entries through archive/zip with a fixed deflate
// level and zeroed timestamps, so the same logical input always produces
// identical archive bytes. Re-signing depends on that determinism.
func (z *ZipFile) serialize() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})
	for _, e := range z.entries {
		header := &zip.FileHeader{
			Name:   e.name,
			Method: e.method,
		}
		w, err := zw.CreateHeader(header)
		if err != nil {
			return nil, fmt.Errorf("could not create entry `%s`: %w", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			return nil, fmt.Errorf("could not write entry `%s`: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("could not finish archive: %w", err)
	}
	return buf.Bytes(), nil
}

func (z *ZipFile) find(name string) *zipEntry {
	for _, e := range z.entries {
		if e.name == name {
			return e
		}
	}
	return nil
}

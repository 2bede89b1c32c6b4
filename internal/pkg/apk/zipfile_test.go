package apk

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/apk/signing"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/mbferror"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/utils/fileutils"
)

//nolint:gochecknoglobals // test fixture
var testEntries = map[string][]byte{
	"AndroidManifest.xml":        []byte("placeholder manifest"),
	"classes.dex":                []byte("dex bytes"),
	"lib/arm64-v8a/libil2cpp.so": []byte("game code"),
}

func writeTestZip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "base.apk")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, data := range testEntries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.apk")
	if err := os.WriteFile(path, []byte("this is not a zip"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path)
	if !errors.Is(err, mbferror.ErrMalformedContainer) {
		t.Errorf("Open() error = %v, want ErrMalformedContainer", err)
	}
}

func TestEntryOperations(t *testing.T) {
	z, err := Open(writeTestZip(t))
	if err != nil {
		t.Fatal(err)
	}

	if !z.ContainsEntry("classes.dex") {
		t.Error("ContainsEntry() = false for an existing entry")
	}
	got, err := z.ReadEntry("AndroidManifest.xml")
	if err != nil {
		t.Fatalf("ReadEntry() error = %v", err)
	}
	if !bytes.Equal(got, testEntries["AndroidManifest.xml"]) {
		t.Errorf("ReadEntry() = %q, want %q", got, testEntries["AndroidManifest.xml"])
	}

	if err := z.DeleteEntry("classes.dex"); err != nil {
		t.Fatalf("DeleteEntry() error = %v", err)
	}
	if z.ContainsEntry("classes.dex") {
		t.Error("entry still present after DeleteEntry()")
	}

	if err := z.WriteEntry("modded.json", bytes.NewReader([]byte("{}")), Deflate); err != nil {
		t.Fatalf("WriteEntry() error = %v", err)
	}
	if _, err := z.ReadEntry("nope"); !errors.Is(err, mbferror.ErrEntryNotFound) {
		t.Errorf("ReadEntry() error = %v, want ErrEntryNotFound", err)
	}
}

func TestSaveAndSignV2(t *testing.T) {
	pemPath := filepath.Join("..", "patching", "assets", "debug_cert.pem")
	key, cert, err := signing.LoadCertAndKey(fileutils.ReadOrPanic(pemPath))
	if err != nil {
		t.Fatal(err)
	}

	path := writeTestZip(t)
	z, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := z.WriteEntry("lib/arm64-v8a/libmain.so", bytes.NewReader([]byte("loader")), Deflate); err != nil {
		t.Fatal(err)
	}
	if err := z.SaveAndSignV2(cert, key); err != nil {
		t.Fatalf("SaveAndSignV2() error = %v", err)
	}

	signed, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := signing.VerifyV2(signed, cert); err != nil {
		t.Errorf("VerifyV2() error = %v", err)
	}

	// The handle is consumed: no edit may follow the signature.
	if err := z.WriteEntry("late.txt", bytes.NewReader([]byte("x")), Store); !errors.Is(err, mbferror.ErrContainerFinalized) {
		t.Errorf("WriteEntry() after signing: error = %v, want ErrContainerFinalized", err)
	}
	if err := z.DeleteEntry("classes.dex"); !errors.Is(err, mbferror.ErrContainerFinalized) {
		t.Errorf("DeleteEntry() after signing: error = %v, want ErrContainerFinalized", err)
	}

	// The signed archive still reads as a plain zip with all entries intact.
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() on signed archive: %v", err)
	}
	if !reopened.ContainsEntry("lib/arm64-v8a/libmain.so") {
		t.Error("injected entry missing from signed archive")
	}
	data, err := reopened.ReadEntry("classes.dex")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, testEntries["classes.dex"]) {
		t.Error("entry contents changed by signing")
	}
}

func TestSerializeDeterministic(t *testing.T) {
	path := writeTestZip(t)
	z1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	z2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	b1, err := z1.serialize()
	if err != nil {
		t.Fatal(err)
	}
	b2, err := z2.serialize()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b1, b2) {
		t.Error("serialize() is not deterministic for the same logical input")
	}
}

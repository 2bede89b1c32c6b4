package patching

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/agentcfg"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/apk"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/apk/signing"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/axml"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/utils/logutils"
)

func TestMain(m *testing.M) {
	logutils.SetupTestLogging()
	os.Exit(m.Run())
}

func buildFixtureManifest(t *testing.T) []byte {
	t.Helper()
	w := axml.NewWriter()
	for _, ev := range []axml.Event{
		axml.StartNamespace{Prefix: "android", URI: axml.AndroidNamespaceURI},
		axml.StartElement{Name: "manifest", Attributes: []axml.Attribute{
			{Name: "package", Value: axml.StringValue("com.beatgames.beatsaber")},
		}},
		axml.StartElement{Name: "application"},
		axml.EndElement{Name: "application"},
		axml.EndElement{Name: "manifest"},
		axml.EndNamespace{Prefix: "android", URI: axml.AndroidNamespaceURI},
	} {
		w.Write(ev)
	}
	data, err := w.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// buildFixtureAPK writes an unsigned package containing a valid binary
// manifest plus the given extra entries.
func buildFixtureAPK(t *testing.T, path string, extra map[string][]byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	writeEntry := func(name string, data []byte) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	writeEntry("AndroidManifest.xml", buildFixtureManifest(t))
	writeEntry("classes.dex", []byte("dex fixture contents"))
	for name, data := range extra {
		writeEntry(name, data)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func testConfig(t *testing.T) agentcfg.Config {
	t.Helper()
	root := t.TempDir()
	cfg := agentcfg.Default()
	cfg.AppDataPath = filepath.Join(root, "data")
	cfg.AppObbPath = filepath.Join(root, "obb")
	cfg.TempPath = filepath.Join(root, "tmp")
	cfg.ModDataPath = filepath.Join(root, "moddata")
	return cfg
}

func TestPatchAPKInPlace(t *testing.T) {
	cfg := testConfig(t)
	apkPath := filepath.Join(t.TempDir(), "base.apk")
	buildFixtureAPK(t, apkPath, map[string][]byte{
		"lib/arm64-v8a/libmain.so": []byte("stock loader"),
	})

	libUnityPath := filepath.Join(t.TempDir(), "libunity.so")
	if err := os.WriteFile(libUnityPath, []byte("unstripped unity"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := PatchAPKInPlace(apkPath, libUnityPath, DefaultModTag(), cfg); err != nil {
		t.Fatalf("PatchAPKInPlace: %v", err)
	}

	z, err := apk.Open(apkPath)
	if err != nil {
		t.Fatalf("patched APK does not open: %v", err)
	}

	injected, err := z.ReadEntry("lib/arm64-v8a/libmain.so")
	if err != nil {
		t.Fatalf("patched APK has no native loader: %v", err)
	}
	if bytes.Equal(injected, []byte("stock loader")) {
		t.Error("native loader was not replaced")
	}

	unity, err := z.ReadEntry("lib/arm64-v8a/libunity.so")
	if err != nil {
		t.Fatalf("patched APK has no libunity: %v", err)
	}
	if !bytes.Equal(unity, []byte("unstripped unity")) {
		t.Error("libunity contents do not match the provided file")
	}

	tagData, err := z.ReadEntry("modded.json")
	if err != nil {
		t.Fatalf("patched APK has no provenance tag: %v", err)
	}
	var tag ModTag
	if err := json.Unmarshal(tagData, &tag); err != nil {
		t.Fatalf("provenance tag does not decode: %v", err)
	}
	if tag.ModloaderName != "Scotland2" {
		t.Errorf("modloader_name = %q, want Scotland2", tag.ModloaderName)
	}

	loader, installed, err := GetModloaderInstalled(z)
	if err != nil {
		t.Fatal(err)
	}
	if !installed || loader != ModLoaderScotland2 {
		t.Errorf("GetModloaderInstalled = (%v, %v), want (Scotland2, true)", loader, installed)
	}

	_, cert, err := signing.LoadCertAndKey(debugCertPEM)
	if err != nil {
		t.Fatal(err)
	}
	signedBytes, err := os.ReadFile(apkPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := signing.VerifyV2(signedBytes, cert); err != nil {
		t.Errorf("patched APK fails v2 verification: %v", err)
	}
}

func TestPatchAPKInPlaceWithoutLibUnity(t *testing.T) {
	cfg := testConfig(t)
	apkPath := filepath.Join(t.TempDir(), "base.apk")
	buildFixtureAPK(t, apkPath, nil)

	if err := PatchAPKInPlace(apkPath, "", DefaultModTag(), cfg); err != nil {
		t.Fatalf("PatchAPKInPlace: %v", err)
	}

	z, err := apk.Open(apkPath)
	if err != nil {
		t.Fatal(err)
	}
	if z.ContainsEntry("lib/arm64-v8a/libunity.so") {
		t.Error("libunity entry present despite no file being provided")
	}
	if !z.ContainsEntry("lib/arm64-v8a/libmain.so") {
		t.Error("native loader missing")
	}
}

func TestGetModloaderInstalled(t *testing.T) {
	version := "1.0.0"
	tests := []struct {
		name          string
		extra         map[string][]byte
		wantLoader    ModLoader
		wantInstalled bool
	}{
		{
			name: "tag with case-insensitive loader name",
			extra: map[string][]byte{
				"modded.json": mustTagJSON(t, ModTag{PatcherName: "older-tool", ModloaderName: "qUeStLoAdEr", ModloaderVersion: &version}),
			},
			wantLoader:    ModLoaderQuestLoader,
			wantInstalled: true,
		},
		{
			name: "tag with unrecognized loader name",
			extra: map[string][]byte{
				"modded.json": mustTagJSON(t, ModTag{PatcherName: "other", ModloaderName: "SomethingElse"}),
			},
			wantLoader:    ModLoaderUnknown,
			wantInstalled: true,
		},
		{
			name:          "invalid tag JSON",
			extra:         map[string][]byte{"modded.json": []byte("{not json")},
			wantLoader:    ModLoaderUnknown,
			wantInstalled: true,
		},
		{
			name:          "no tag but legacy marker entry",
			extra:         map[string][]byte{"assets/modded_marker": []byte("x")},
			wantLoader:    ModLoaderUnknown,
			wantInstalled: true,
		},
		{
			name:          "untouched package",
			extra:         nil,
			wantLoader:    "",
			wantInstalled: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apkPath := filepath.Join(t.TempDir(), "fixture.apk")
			buildFixtureAPK(t, apkPath, tt.extra)
			z, err := apk.Open(apkPath)
			if err != nil {
				t.Fatal(err)
			}
			loader, installed, err := GetModloaderInstalled(z)
			if err != nil {
				t.Fatal(err)
			}
			if loader != tt.wantLoader || installed != tt.wantInstalled {
				t.Errorf("GetModloaderInstalled = (%q, %v), want (%q, %v)", loader, installed, tt.wantLoader, tt.wantInstalled)
			}
		})
	}
}

func mustTagJSON(t *testing.T, tag ModTag) []byte {
	t.Helper()
	data, err := json.Marshal(tag)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestUndoStackUnwindsInReverse(t *testing.T) {
	var order []string
	u := &undoStack{}
	u.push("first", func() error { order = append(order, "first"); return nil })
	u.push("second", func() error { order = append(order, "second"); return nil })
	u.unwind()
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Errorf("unwind order = %v, want [second first]", order)
	}

	order = nil
	u.push("third", func() error { order = append(order, "third"); return nil })
	u.disarm()
	u.unwind()
	if len(order) != 0 {
		t.Errorf("disarmed stack still ran actions: %v", order)
	}
}

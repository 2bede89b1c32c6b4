// Package patching mutates an installed APK so it can load a mod runtime,
// and orchestrates the surrounding backup, downgrade and reinstall steps.
package patching

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/agentcfg"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/apk"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/apk/signing"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/manifest"
)

// AppInfo identifies the target application. Read-only input, owned by the
// caller.
type AppInfo struct {
	// Path is the install location of the APK.
	Path string
	// Version is the installed version string.
	Version string
}

// PatchAPKInPlace runs the mutation pipeline over the APK at path: patch the
// manifest, inject the native loader, stamp the provenance tag, optionally
// add the unstripped libunity, then re-sign. The stages are strictly
// ordered; a failed stage leaves the container handle unusable and the
// caller must start over from a known-good copy.
func PatchAPKInPlace(path string, libUnityPath string, tag ModTag, cfg agentcfg.Config) error {
	z, err := apk.Open(path)
	if err != nil {
		return err
	}

	if err := patchManifest(z); err != nil {
		return fmt.Errorf("failed to patch manifest: %w", err)
	}

	key, cert, err := signing.LoadCertAndKey(debugCertPEM)
	if err != nil {
		return fmt.Errorf("failed to load debug certificate: %w", err)
	}

	libMainPath := cfg.NativeLibDir() + "/" + libMainName
	if err := z.DeleteEntry(libMainPath); err != nil {
		return err
	}
	if err := z.WriteEntry(libMainPath, bytes.NewReader(libMain), apk.Deflate); err != nil {
		return fmt.Errorf("failed to write %s: %w", libMainPath, err)
	}

	if err := addModdedTag(z, tag); err != nil {
		return err
	}

	if libUnityPath != "" {
		unityStream, err := os.Open(libUnityPath)
		if err != nil {
			return fmt.Errorf("failed to open unstripped libunity: %w", err)
		}
		writeErr := z.WriteEntry(cfg.NativeLibDir()+"/"+libUnityName, unityStream, apk.Deflate)
		closeErr := unityStream.Close()
		if writeErr != nil {
			return fmt.Errorf("failed to write libunity: %w", writeErr)
		}
		if closeErr != nil {
			log.Errorf("Failed to close libunity stream: %s", closeErr)
		}
	} else {
		log.Warn("No unstripped unity added to the APK! This might cause issues later")
	}

	if err := z.SaveAndSignV2(cert, key); err != nil {
		return fmt.Errorf("failed to save APK: %w", err)
	}
	return nil
}

func patchManifest(z *apk.ZipFile) error {
	contents, err := z.ReadEntry("AndroidManifest.xml")
	if err != nil {
		return fmt.Errorf("APK had no manifest: %w", err)
	}

	mod := manifest.NewMod().
		Debuggable(true).
		WithPermission("android.permission.MANAGE_EXTERNAL_STORAGE")

	resIDs, err := manifest.LoadResourceIds()
	if err != nil {
		return err
	}
	patched, err := mod.Patch(contents, resIDs)
	if err != nil {
		return err
	}

	if err := z.DeleteEntry("AndroidManifest.xml"); err != nil {
		return err
	}
	if err := z.WriteEntry("AndroidManifest.xml", bytes.NewReader(patched), apk.Deflate); err != nil {
		return fmt.Errorf("failed to write modified manifest: %w", err)
	}
	return nil
}

func addModdedTag(z *apk.ZipFile, tag ModTag) error {
	savedTag, err := json.MarshalIndent(tag, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize mod tag: %w", err)
	}
	return z.WriteEntry(modTagPath, bytes.NewReader(savedTag), apk.Deflate)
}

// DefaultModTag describes this patcher and the loader it injects.
func DefaultModTag() ModTag {
	version := "0.1.0"
	return ModTag{
		PatcherName:    "ModsBeforeFriday",
		PatcherVersion: &version,
		ModloaderName:  string(ModLoaderScotland2),
	}
}

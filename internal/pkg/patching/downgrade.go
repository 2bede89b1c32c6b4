package patching

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/diff"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/fetcher"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/mbferror"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/utils/fileutils"
)

// DowngradeAndModAPK downgrades the installed app to the latest moddable
// version and then mods it. The diff repository decides which version that
// is; an installed version with no published diffs cannot be downgraded.
func (a *Agent) DowngradeAndModAPK(app AppInfo) error {
	versionDiffs, err := a.res.GetVersionDiffs(a.cfg.APKID, app.Version)
	if err != nil {
		return fmt.Errorf("could not look up downgrade diffs: %w", err)
	}
	if versionDiffs == nil {
		return fmt.Errorf("no downgrade path is published for version %s", app.Version)
	}
	log.Infof("Downgrading from %s to %s", versionDiffs.FromVersion, versionDiffs.ToVersion)

	diffsDir := filepath.Join(a.cfg.TempPath, "diffs")
	if err := os.MkdirAll(diffsDir, 0700); err != nil {
		return fmt.Errorf("failed to create diffs directory: %w", err)
	}

	if err := a.downloadDiffs(diffsDir, versionDiffs); err != nil {
		return fmt.Errorf("failed to download diffs: %w", err)
	}

	// The mutation stage targets the version we are downgrading TO, so the
	// unstripped libunity must match that version as well.
	log.Info("Downloading unstripped libunity.so (this could take a minute)")
	libUnityPath, err := a.saveLibUnity(AppInfo{Path: app.Path, Version: versionDiffs.ToVersion})
	if err != nil {
		return fmt.Errorf("failed to save libunity.so: %w", err)
	}

	log.Info("Downgrading APK")
	tempApkPath := filepath.Join(a.cfg.TempPath, tempApkName)
	if err := diff.Apply(app.Path, tempApkPath, versionDiffs.ApkDiff, diffsDir); err != nil {
		return fmt.Errorf("failed to downgrade APK: %w", err)
	}

	if err := a.downgradeObbs(versionDiffs.ObbDiffs, diffsDir); err != nil {
		return err
	}

	return a.mutateAndReinstall(tempApkPath, libUnityPath)
}

// downloadDiffs fetches every asset-bundle diff in order, then the package
// diff, fully sequentially. The first failure aborts; payloads already on
// disk stay there so a retried run can skip them.
func (a *Agent) downloadDiffs(diffsDir string, versionDiffs *diff.VersionDiffs) error {
	f := fetcher.New(a.res, a.cfg.DownloadAttempts)
	logProgress := func(percent float64) {
		log.Infof("Progress: %.2f%%", percent)
	}

	for _, d := range versionDiffs.ObbDiffs {
		log.Infof("Downloading diff for OBB (this may take a long time) %s", d.FileName)
		if err := f.FetchRetry(d, diffsDir, logProgress); err != nil {
			return err
		}
	}

	log.Info("Downloading diff for APK (this may take a long time)")
	return f.FetchRetry(versionDiffs.ApkDiff, diffsDir, logProgress)
}

// downgradeObbs patches every asset bundle the version transition covers,
// replacing each in its install location. A diff's target is the local
// bundle whose CRC32 matches its expected pre-patch checksum; a diff with no
// matching bundle means the installation is not in the expected state.
func (a *Agent) downgradeObbs(obbDiffs []diff.Diff, diffsDir string) error {
	if len(obbDiffs) == 0 {
		return nil
	}
	obbPaths, err := listObbs(a.cfg.AppObbPath)
	if err != nil {
		return err
	}

	for _, d := range obbDiffs {
		target, err := matchObbByCRC(obbPaths, d.FileCRC)
		if err != nil {
			return err
		}

		log.Infof("Downgrading OBB %s", filepath.Base(target))
		patched := filepath.Join(a.cfg.TempPath, filepath.Base(target)+".patched")
		if err := diff.Apply(target, patched, d, diffsDir); err != nil {
			return fmt.Errorf("failed to downgrade OBB `%s`: %w", target, err)
		}
		if err := os.Remove(target); err != nil {
			return fmt.Errorf("could not remove outdated OBB `%s`: %w", target, err)
		}
		if err := fileutils.MoveAcrossMounts(patched, target); err != nil {
			return fmt.Errorf("could not install downgraded OBB `%s`: %w", target, err)
		}
	}
	return nil
}

func listObbs(obbDir string) ([]string, error) {
	entries, err := os.ReadDir(obbDir)
	if err != nil {
		return nil, fmt.Errorf("could not list obb directory `%s`: %w", obbDir, err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".obb") {
			paths = append(paths, filepath.Join(obbDir, e.Name()))
		}
	}
	return paths, nil
}

// matchObbByCRC finds the bundle whose contents hash to wantCRC.
func matchObbByCRC(obbPaths []string, wantCRC uint32) (string, error) {
	for _, p := range obbPaths {
		content, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("could not read OBB `%s`: %w", p, err)
		}
		if crc32.ChecksumIEEE(content) == wantCRC {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: no installed OBB matches checksum %d; is the installation corrupt, or is the game pirated?",
		mbferror.ErrUnexpectedSourceContent, wantCRC)
}

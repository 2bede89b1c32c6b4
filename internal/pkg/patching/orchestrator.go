package patching

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/agentcfg"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/backup"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/diff"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/utils/fileutils"
	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/utils/funcutils"
)

// ResourceClient supplies everything the agent fetches over the network.
type ResourceClient interface {
	GetVersionDiffs(apkID, version string) (*diff.VersionDiffs, error)
	GetDiffReader(d diff.Diff) (body io.ReadCloser, length int64, err error)
	GetLibUnityStream(apkID, version string) (io.ReadCloser, error)
}

// PlatformInstaller drives the host package manager.
type PlatformInstaller interface {
	Uninstall() error
	Install(apkPath string) error
	GrantManageStorage() error
}

// Agent ties the pipeline components together for one target application.
// Pipeline invocations must be serialized by the caller; the temp and
// backup directories are owned exclusively for the duration of a run.
type Agent struct {
	cfg       agentcfg.Config
	res       ResourceClient
	installer PlatformInstaller
}

func NewAgent(cfg agentcfg.Config, res ResourceClient, installer PlatformInstaller) *Agent {
	return &Agent{cfg: cfg, res: res, installer: installer}
}

// ModCurrentAPK mods the currently installed version of the app: back up
// mutable state, mutate a working copy of the APK, reinstall it and restore
// the state.
func (a *Agent) ModCurrentAPK(app AppInfo) error {
	if err := os.MkdirAll(a.cfg.TempPath, 0700); err != nil {
		return fmt.Errorf("failed to create temp workspace: %w", err)
	}

	log.Info("Downloading unstripped libunity.so (this could take a minute)")
	libUnityPath, err := a.saveLibUnity(app)
	if err != nil {
		return fmt.Errorf("failed to save libunity.so: %w", err)
	}

	log.Info("Copying APK to temporary location")
	tempApkPath := filepath.Join(a.cfg.TempPath, tempApkName)
	if err := fileutils.CopyFile(app.Path, tempApkPath); err != nil {
		return fmt.Errorf("failed to copy APK to temp: %w", err)
	}

	return a.mutateAndReinstall(tempApkPath, libUnityPath)
}

// mutateAndReinstall runs backup, mutation, reinstall and restore over an
// already-staged working copy of the APK. Destructive steps register
// compensation which runs if a later stage fails.
func (a *Agent) mutateAndReinstall(tempApkPath, libUnityPath string) error {
	undo := &undoStack{}
	defer undo.unwind()

	backupMgr, err := backup.NewManager(filepath.Join(a.cfg.TempPath, "backups"))
	if err != nil {
		return err
	}

	log.Info("Saving OBB files")
	// SaveObbs reports the bundles it moved even on failure; those must be
	// compensated too, or a mid-backup failure strands them in the backup
	// directory.
	obbPaths, err := backupMgr.SaveObbs(a.cfg.AppObbPath)
	restoreObbs := func() error { return backupMgr.RestoreObbs(a.cfg.AppObbPath, obbPaths) }
	undo.push("restore OBB files", restoreObbs)
	if err != nil {
		return fmt.Errorf("failed to save OBB files: %w", err)
	}

	backedUpData, err := backupMgr.SavePlayerData(a.cfg.AppDataPath)
	if err != nil {
		return fmt.Errorf("failed to back up player data: %w", err)
	}
	restorePlayerData := func() error { return backupMgr.RestorePlayerData(a.cfg.AppDataPath) }
	if backedUpData {
		undo.push("restore player data", restorePlayerData)
	}

	log.Infof("Patching APK at %s", tempApkPath)
	if err := PatchAPKInPlace(tempApkPath, libUnityPath, DefaultModTag(), a.cfg); err != nil {
		return err
	}

	if err := a.reinstallModdedApp(tempApkPath); err != nil {
		return err
	}

	// Terminal stretch: from here the restores are the normal success path,
	// not compensation.
	undo.disarm()

	log.Info("Restoring OBB files")
	if err := restoreObbs(); err != nil {
		return err
	}
	if err := os.Remove(tempApkPath); err != nil {
		log.Errorf("Failed to delete temporary APK `%s`: %s", tempApkPath, err)
	}
	if backedUpData {
		log.Info("Restoring player data")
		if err := restorePlayerData(); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) reinstallModdedApp(tempApkPath string) error {
	log.Info("Reinstalling modded app")
	if err := a.installer.Uninstall(); err != nil {
		return fmt.Errorf("failed to uninstall vanilla APK: %w", err)
	}
	if err := a.installer.Install(tempApkPath); err != nil {
		return fmt.Errorf("failed to install modded APK: %w", err)
	}

	log.Info("Granting external storage permission")
	if err := a.installer.GrantManageStorage(); err != nil {
		return fmt.Errorf("failed to grant storage permission: %w", err)
	}
	return nil
}

// saveLibUnity downloads the unstripped libunity for the installed version
// into the temp workspace. An empty path means none is published for this
// version.
func (a *Agent) saveLibUnity(app AppInfo) (string, error) {
	stream, err := a.res.GetLibUnityStream(a.cfg.APKID, app.Version)
	if err != nil {
		return "", err
	}
	if stream == nil {
		return "", nil
	}
	defer funcutils.PanicOrLogOnErr(stream.Close, false, "failed to close libunity stream")

	libUnityPath := filepath.Join(a.cfg.TempPath, libUnityName)
	out, err := os.Create(libUnityPath)
	if err != nil {
		return "", err
	}
	_, copyErr := io.Copy(out, stream)
	closeErr := out.Close()
	if copyErr != nil {
		return "", copyErr
	}
	if closeErr != nil {
		return "", closeErr
	}
	return libUnityPath, nil
}

// InstallModloader copies the bundled modloader to the shared storage
// location the injected libmain loads it from.
func (a *Agent) InstallModloader() error {
	dir := a.cfg.ModloaderDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create modloader directory: %w", err)
	}
	loaderPath := filepath.Join(dir, modloaderFileName)
	log.Infof("Installing modloader to %s", loaderPath)
	if err := os.WriteFile(loaderPath, modloader, 0644); err != nil {
		return fmt.Errorf("failed to write modloader: %w", err)
	}
	return nil
}

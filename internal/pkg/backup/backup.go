// Package backup relocates asset bundles and persisted app state out of and
// back into their install locations for the duration of a pipeline run.
//
// The install directories and the backup directory may live on different
// mount points, so every move is a copy followed by a delete of the
// original; os.Rename is never safe here.
package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/utils/fileutils"
)

// obbExtension is the asset-bundle suffix. Entries without it (e.g. DLC
// downloads) are deliberately left in place: they are large and easily
// re-fetched, so relocating them is not worth the risk.
const obbExtension = ".obb"

// playerDataFile is the single persisted-state file worth preserving across
// a reinstall.
const playerDataFile = "PlayerData.dat"

type Manager struct {
	backupDir string
}

func NewManager(backupDir string) (*Manager, error) {
	if err := os.MkdirAll(backupDir, 0700); err != nil {
		return nil, fmt.Errorf("could not create backup directory `%s`: %w", backupDir, err)
	}
	return &Manager{backupDir: backupDir}, nil
}

// SaveObbs moves every asset bundle in obbDir to the backup directory and
// returns the original paths, in directory order, for a later restore.
func (m *Manager) SaveObbs(obbDir string) ([]string, error) {
	entries, err := os.ReadDir(obbDir)
	if err != nil {
		return nil, fmt.Errorf("could not list obb directory `%s`: %w", obbDir, err)
	}

	obbs := lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		return !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), obbExtension)
	})

	var originals []string
	for _, e := range obbs {
		original := filepath.Join(obbDir, e.Name())
		if err := fileutils.MoveAcrossMounts(original, filepath.Join(m.backupDir, e.Name())); err != nil {
			return originals, fmt.Errorf("could not back up `%s`: %w", original, err)
		}
		originals = append(originals, original)
	}
	return originals, nil
}

// RestoreObbs copies each backed-up asset bundle back under its original
// file name in restoreDir, creating the directory if the reinstall removed
// it. A backup copy that cannot be deleted afterwards does not fail the
// restore, but it leaks storage and is logged.
func (m *Manager) RestoreObbs(restoreDir string, originals []string) error {
	if err := os.MkdirAll(restoreDir, 0755); err != nil {
		return fmt.Errorf("could not recreate obb directory `%s`: %w", restoreDir, err)
	}
	for _, original := range originals {
		name := filepath.Base(original)
		backupPath := filepath.Join(m.backupDir, name)
		log.Infof("Restoring %s", name)
		if err := fileutils.CopyFile(backupPath, filepath.Join(restoreDir, name)); err != nil {
			return fmt.Errorf("could not restore `%s`: %w", name, err)
		}
		if err := os.Remove(backupPath); err != nil {
			log.Errorf("Failed to delete backup copy `%s`, leaking storage: %s", backupPath, err)
		}
	}
	return nil
}

// SavePlayerData backs up the persisted-state file from dataDir if it
// exists. Its absence is not an error; the return value says whether there
// is anything to restore later.
func (m *Manager) SavePlayerData(dataDir string) (backedUp bool, err error) {
	src := filepath.Join(dataDir, playerDataFile)
	exists, err := fileutils.Exists(src)
	if err != nil {
		return false, fmt.Errorf("could not stat `%s`: %w", src, err)
	}
	if !exists {
		log.Info("No player data to save")
		return false, nil
	}
	log.Info("Backing up player data")
	if err := fileutils.CopyFile(src, m.playerDataBackupPath()); err != nil {
		return false, err
	}
	return true, nil
}

// RestorePlayerData copies the backed-up state file back into dataDir,
// recreating the directory if needed.
func (m *Manager) RestorePlayerData(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("could not recreate data directory `%s`: %w", dataDir, err)
	}
	backupPath := m.playerDataBackupPath()
	if err := fileutils.CopyFile(backupPath, filepath.Join(dataDir, playerDataFile)); err != nil {
		return err
	}
	if err := os.Remove(backupPath); err != nil {
		log.Errorf("Failed to delete player data backup `%s`, leaking storage: %s", backupPath, err)
	}
	return nil
}

func (m *Manager) playerDataBackupPath() string {
	return filepath.Join(m.backupDir, playerDataFile+".backup")
}

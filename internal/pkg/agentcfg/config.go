// Package agentcfg holds the deployment-fixed parameters of the agent.
//
// The configuration is constructed once at process start and passed
// explicitly to every component. An optional YAML file can override the
// defaults, but nothing is reconfigurable while a pipeline run is active.
package agentcfg

import (
	"fmt"
	"path"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/utils/fileutils"
)

type Config struct {
	// APKID is the package identifier of the app being modded.
	APKID string `yaml:"apk-id"`
	// AppDataPath holds the persisted state of the app (PlayerData.dat).
	AppDataPath string `yaml:"app-data-path"`
	// AppObbPath holds the app's asset bundles.
	AppObbPath string `yaml:"app-obb-path"`
	// TempPath is the scratch workspace for one pipeline run.
	TempPath string `yaml:"temp-path"`
	// ModDataPath is the root under which modloaders are installed, keyed by package.
	ModDataPath string `yaml:"mod-data-path"`
	// DiffRepoURL is the base URL of the diff metadata repository.
	DiffRepoURL string `yaml:"diff-repo-url"`
	// DownloadAttempts bounds retries for a single diff download.
	DownloadAttempts int `yaml:"download-attempts"`
	// NativeABI is the single ABI the injected loader is built for.
	NativeABI string `yaml:"native-abi"`
}

func Default() Config {
	const apkID = "com.beatgames.beatsaber"
	return Config{
		APKID:            apkID,
		AppDataPath:      "/sdcard/Android/data/" + apkID + "/files",
		AppObbPath:       "/sdcard/Android/obb/" + apkID,
		TempPath:         "/data/local/tmp/mbf",
		ModDataPath:      "/sdcard/ModData",
		DiffRepoURL:      "https://mods.bsquest.xyz",
		DownloadAttempts: 3,
		NativeABI:        "arm64-v8a",
	}
}

// Load returns the default configuration with any overrides from the YAML
// file at configPath applied. A missing file is not an error.
func Load(configPath string) (Config, error) {
	cfg := Default()
	exists, err := fileutils.Exists(configPath)
	if err != nil {
		return cfg, fmt.Errorf("could not stat config file `%s`: %w", configPath, err)
	}
	if !exists {
		return cfg, nil
	}
	if _, err := fileutils.SafeReadYAML(configPath, &cfg, 0600); err != nil {
		return cfg, fmt.Errorf("could not parse config file `%s`: %w", configPath, err)
	}
	if cfg.DownloadAttempts < 1 {
		return cfg, fmt.Errorf("download-attempts must be at least 1, got %d", cfg.DownloadAttempts)
	}
	return cfg, nil
}

// ModloaderDir returns the directory the modloader is installed to for this package.
func (c Config) ModloaderDir() string {
	return path.Join(c.ModDataPath, c.APKID, "Modloader")
}

// NativeLibDir returns the library directory inside the APK for the configured ABI.
func (c Config) NativeLibDir() string {
	return "lib/" + c.NativeABI
}

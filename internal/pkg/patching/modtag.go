package patching

import (
	"encoding/json"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/apk"
)

// ModTag is the provenance record embedded in a mutated APK. Its presence
// and content are the sole signal used to detect whether, and by what, a
// package has already been modified.
type ModTag struct {
	PatcherName      string  `json:"patcher_name"`
	PatcherVersion   *string `json:"patcher_version"`
	ModloaderName    string  `json:"modloader_name"`
	ModloaderVersion *string `json:"modloader_version"`
}

// ModLoader identifies the mod runtime a package was patched for.
type ModLoader string

const (
	ModLoaderQuestLoader ModLoader = "QuestLoader"
	ModLoaderScotland2   ModLoader = "Scotland2"
	ModLoaderUnknown     ModLoader = "Unknown"
)

// GetModloaderInstalled reads the provenance tag back out of a container.
// The loader name is matched case-insensitively. Legacy packages without a
// tag are detected by scanning entry names for a modification marker;
// installed reports false when neither is present.
func GetModloaderInstalled(z *apk.ZipFile) (loader ModLoader, installed bool, err error) {
	if z.ContainsEntry(modTagPath) {
		tagData, err := z.ReadEntry(modTagPath)
		if err != nil {
			return "", false, err
		}
		var tag ModTag
		if err := json.Unmarshal(tagData, &tag); err != nil {
			log.Warnf("Mod tag was invalid JSON: %s... Assuming unknown modloader", err)
			return ModLoaderUnknown, true, nil
		}
		switch {
		case strings.EqualFold(tag.ModloaderName, string(ModLoaderQuestLoader)):
			return ModLoaderQuestLoader, true, nil
		case strings.EqualFold(tag.ModloaderName, string(ModLoaderScotland2)):
			return ModLoaderScotland2, true, nil
		default:
			return ModLoaderUnknown, true, nil
		}
	}
	for _, name := range z.EntryNames() {
		if strings.Contains(name, "modded") {
			return ModLoaderUnknown, true, nil
		}
	}
	return "", false, nil
}

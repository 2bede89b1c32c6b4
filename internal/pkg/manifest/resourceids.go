package manifest

import (
	"fmt"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/mbferror"
)

// ResourceIds resolves symbolic framework attribute names to the numeric IDs
// the binary XML format requires.
type ResourceIds struct {
	ids map[string]uint32
}

// LoadResourceIds returns the resolver for the framework attributes this
// patcher can touch. The IDs are fixed public values from the android
// attribute table.
func LoadResourceIds() (ResourceIds, error) {
	return ResourceIds{ids: map[string]uint32{
		"theme":             0x01010000,
		"label":             0x01010001,
		"icon":              0x01010002,
		"name":              0x01010003,
		"permission":        0x01010006,
		"debuggable":        0x0101000f,
		"exported":          0x01010010,
		"value":             0x01010024,
		"minSdkVersion":     0x0101020c,
		"versionCode":       0x0101021b,
		"versionName":       0x0101021c,
		"targetSdkVersion":  0x01010270,
		"glEsVersion":       0x01010281,
		"required":          0x0101028e,
		"installLocation":   0x010102b7,
		"extractNativeLibs": 0x010104ea,
	}}, nil
}

// Resolve returns the numeric ID for a symbolic attribute name.
func (r ResourceIds) Resolve(name string) (uint32, error) {
	id, ok := r.ids[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", mbferror.ErrUnknownResource, name)
	}
	return id, nil
}

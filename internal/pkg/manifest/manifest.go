// Package manifest applies declarative edits to a binary-encoded
// AndroidManifest.xml.
package manifest

import (
	"fmt"
	"io"

	"github.com/samber/lo"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/axml"
)

// Mod is a set of edit intents resolved against the manifest as it streams
// through. Applying the same Mod twice yields the same document: the
// debuggable flag is set in place and permissions are only declared once.
type Mod struct {
	debuggable  bool
	permissions []string
}

func NewMod() *Mod {
	return &Mod{}
}

// Debuggable marks the application element debuggable.
func (m *Mod) Debuggable(debuggable bool) *Mod {
	m.debuggable = debuggable
	return m
}

// WithPermission ensures the named permission is declared.
func (m *Mod) WithPermission(name string) *Mod {
	m.permissions = append(m.permissions, name)
	return m
}

// Apply streams the document from r to w, rewriting the application element
// and injecting missing uses-permission declarations just before the
// manifest element closes (by which point every existing declaration has
// been seen).
func (m *Mod) Apply(r *axml.Reader, w *axml.Writer, resIDs ResourceIds) error {
	nameID, err := resIDs.Resolve("name")
	if err != nil {
		return err
	}
	debuggableID, err := resIDs.Resolve("debuggable")
	if err != nil {
		return err
	}

	seenPermissions := map[string]bool{}
	depth := 0
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch e := ev.(type) {
		case axml.StartElement:
			depth++
			if depth == 2 && e.Name == "uses-permission" {
				if name, ok := permissionName(e); ok {
					seenPermissions[name] = true
				}
			}
			if depth == 2 && e.Name == "application" && m.debuggable {
				e.Attributes = setBoolAttribute(e.Attributes, "debuggable", debuggableID, true)
			}
			w.Write(e)
		case axml.EndElement:
			if depth == 1 && e.Name == "manifest" {
				missing := lo.Filter(m.permissions, func(p string, _ int) bool { return !seenPermissions[p] })
				for _, p := range missing {
					writePermission(w, p, nameID)
					seenPermissions[p] = true
				}
			}
			depth--
			w.Write(e)
		default:
			w.Write(ev)
		}
	}
}

func permissionName(e axml.StartElement) (string, bool) {
	for _, attr := range e.Attributes {
		if attr.Name == "name" && attr.NamespaceURI == axml.AndroidNamespaceURI && attr.Value.Kind == axml.ValueString {
			return attr.Value.Str, true
		}
	}
	return "", false
}

// setBoolAttribute overwrites an existing attribute in place or inserts a
// new one keeping the attribute list sorted by resource ID, which the
// platform relies on when resolving framework attributes.
func setBoolAttribute(attrs []axml.Attribute, name string, resourceID uint32, value bool) []axml.Attribute {
	for i, attr := range attrs {
		if attr.ResourceID == resourceID {
			attrs[i].Value = axml.BoolValue(value)
			return attrs
		}
	}
	newAttr := axml.Attribute{
		NamespaceURI: axml.AndroidNamespaceURI,
		Name:         name,
		ResourceID:   resourceID,
		Value:        axml.BoolValue(value),
	}
	at := len(attrs)
	for i, attr := range attrs {
		if attr.ResourceID != 0 && attr.ResourceID > resourceID {
			at = i
			break
		}
	}
	attrs = append(attrs[:at], append([]axml.Attribute{newAttr}, attrs[at:]...)...)
	return attrs
}

func writePermission(w *axml.Writer, permission string, nameID uint32) {
	w.Write(axml.StartElement{
		Name: "uses-permission",
		Attributes: []axml.Attribute{{
			NamespaceURI: axml.AndroidNamespaceURI,
			Name:         "name",
			ResourceID:   nameID,
			Value:        axml.StringValue(permission),
		}},
	})
	w.Write(axml.EndElement{Name: "uses-permission"})
}

// Patch decodes manifestBytes, applies the mod and re-encodes.
func (m *Mod) Patch(manifestBytes []byte, resIDs ResourceIds) ([]byte, error) {
	r, err := axml.NewReader(manifestBytes)
	if err != nil {
		return nil, err
	}
	w := axml.NewWriter()
	if err := m.Apply(r, w, resIDs); err != nil {
		return nil, fmt.Errorf("could not apply manifest mod: %w", err)
	}
	return w.Finish()
}

// Package axml reads and writes the Android binary XML format used for
// AndroidManifest.xml inside an APK.
//
// The codec is event based: a Reader yields namespace and element events in
// document order, a Writer reassembles a document from events. Only the
// chunk types produced by aapt for manifests are supported.
package axml

// AndroidNamespaceURI is the namespace of framework attributes such as
// android:debuggable.
const AndroidNamespaceURI = "http://schemas.android.com/apk/res/android"

// Chunk types.
const (
	chunkXML            = 0x0003
	chunkStringPool     = 0x0001
	chunkResourceMap    = 0x0180
	chunkStartNamespace = 0x0100
	chunkEndNamespace   = 0x0101
	chunkStartElement   = 0x0102
	chunkEndElement     = 0x0103
	chunkCData          = 0x0104
)

// Typed value data types.
const (
	typeReference = 0x01
	typeString    = 0x03
	typeIntDec    = 0x10
	typeIntHex    = 0x11
	typeBoolean   = 0x12
)

// noEntry marks "no value" index fields in the binary format.
const noEntry = 0xFFFFFFFF

// Event is one entry in the document stream.
type Event interface {
	isEvent()
}

type StartNamespace struct {
	Prefix string
	URI    string
}

type EndNamespace struct {
	Prefix string
	URI    string
}

type StartElement struct {
	// NamespaceURI is empty for un-namespaced elements.
	NamespaceURI string
	Name         string
	Attributes   []Attribute
}

type EndElement struct {
	NamespaceURI string
	Name         string
}

func (StartNamespace) isEvent() {}
func (EndNamespace) isEvent()   {}
func (StartElement) isEvent()   {}
func (EndElement) isEvent()     {}

// Attribute is one attribute of an element.
type Attribute struct {
	// NamespaceURI is empty for un-namespaced attributes.
	NamespaceURI string
	Name         string
	// ResourceID is the numeric framework ID of the attribute name, or zero
	// for attributes without one. The platform resolves well-known
	// attributes by this ID, not by name.
	ResourceID uint32
	Value      Value
}

// ValueKind discriminates Value.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueInt
	ValueBool
	ValueReference
	// ValueRaw preserves typed values this codec does not interpret, so
	// that unknown attributes survive a decode/encode round trip.
	ValueRaw
)

type Value struct {
	Kind ValueKind
	Str  string
	Int  int32
	Bool bool
	// Ref is the resource reference for ValueReference values.
	Ref uint32
	// RawType and RawData carry uninterpreted typed values.
	RawType byte
	RawData uint32
}

func StringValue(s string) Value    { return Value{Kind: ValueString, Str: s} }
func IntValue(i int32) Value        { return Value{Kind: ValueInt, Int: i} }
func BoolValue(b bool) Value        { return Value{Kind: ValueBool, Bool: b} }
func ReferenceValue(r uint32) Value { return Value{Kind: ValueReference, Ref: r} }

package axml

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf16"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/mbferror"
)

// Writer reassembles a binary manifest from events. Events are buffered and
// serialized by Finish, because the string pool and resource map at the head
// of the file depend on the whole document.
type Writer struct {
	events []Event
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Write(ev Event) {
	w.events = append(w.events, ev)
}

// Finish serializes the buffered document.
func (w *Writer) Finish() ([]byte, error) {
	pool, err := newStringPool(w.events)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	line := uint32(1)
	for _, ev := range w.events {
		switch e := ev.(type) {
		case StartNamespace:
			writeNamespaceChunk(&body, chunkStartNamespace, line, pool.index(e.Prefix), pool.index(e.URI))
		case EndNamespace:
			writeNamespaceChunk(&body, chunkEndNamespace, line, pool.index(e.Prefix), pool.index(e.URI))
		case StartElement:
			writeStartElementChunk(&body, line, e, pool)
			line++
		case EndElement:
			writeEndElementChunk(&body, line, e, pool)
			line++
		}
	}

	var out bytes.Buffer
	poolBytes := pool.serialize()
	resMapBytes := pool.serializeResourceMap()
	fileSize := 8 + len(poolBytes) + len(resMapBytes) + body.Len()
	writeChunkHeader(&out, chunkXML, 8, uint32(fileSize))
	out.Write(poolBytes)
	out.Write(resMapBytes)
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// stringPool assigns pool indexes. Attribute names carrying resource IDs
// must occupy the first indexes, in the same order as the resource map.
type stringPool struct {
	strings     []string
	indexes     map[string]uint32
	resourceIDs []uint32
}

func newStringPool(events []Event) (*stringPool, error) {
	p := &stringPool{indexes: map[string]uint32{}}

	// First pass: attribute names with resource IDs.
	idByName := map[string]uint32{}
	for _, ev := range events {
		el, ok := ev.(StartElement)
		if !ok {
			continue
		}
		for _, attr := range el.Attributes {
			if attr.ResourceID == 0 {
				continue
			}
			if existing, seen := idByName[attr.Name]; seen {
				if existing != attr.ResourceID {
					return nil, fmt.Errorf("%w: attribute %q used with conflicting resource IDs 0x%08x and 0x%08x",
						mbferror.ErrMalformedManifest, attr.Name, existing, attr.ResourceID)
				}
				continue
			}
			idByName[attr.Name] = attr.ResourceID
			p.indexes[attr.Name] = uint32(len(p.strings))
			p.strings = append(p.strings, attr.Name)
			p.resourceIDs = append(p.resourceIDs, attr.ResourceID)
		}
	}

	// Second pass: everything else, in first-use order.
	for _, ev := range events {
		switch e := ev.(type) {
		case StartNamespace:
			p.add(e.Prefix)
			p.add(e.URI)
		case EndNamespace:
			p.add(e.Prefix)
			p.add(e.URI)
		case StartElement:
			if e.NamespaceURI != "" {
				p.add(e.NamespaceURI)
			}
			p.add(e.Name)
			for _, attr := range e.Attributes {
				if attr.NamespaceURI != "" {
					p.add(attr.NamespaceURI)
				}
				p.add(attr.Name)
				if attr.Value.Kind == ValueString {
					p.add(attr.Value.Str)
				}
			}
		case EndElement:
			if e.NamespaceURI != "" {
				p.add(e.NamespaceURI)
			}
			p.add(e.Name)
		}
	}
	return p, nil
}

func (p *stringPool) add(s string) {
	if _, ok := p.indexes[s]; ok {
		return
	}
	p.indexes[s] = uint32(len(p.strings))
	p.strings = append(p.strings, s)
}

func (p *stringPool) index(s string) uint32 {
	return p.indexes[s]
}

func (p *stringPool) serialize() []byte {
	var data bytes.Buffer
	offsets := make([]uint32, 0, len(p.strings))
	for _, s := range p.strings {
		offsets = append(offsets, uint32(data.Len()))
		units := utf16.Encode([]rune(s))
		_ = binary.Write(&data, binary.LittleEndian, uint16(len(units)))
		for _, u := range units {
			_ = binary.Write(&data, binary.LittleEndian, u)
		}
		// NUL terminator.
		_ = binary.Write(&data, binary.LittleEndian, uint16(0))
	}
	for data.Len()%4 != 0 {
		data.WriteByte(0)
	}

	const headerSize = 28
	stringsStart := headerSize + 4*len(p.strings)
	chunkSize := stringsStart + data.Len()

	var out bytes.Buffer
	writeChunkHeader(&out, chunkStringPool, headerSize, uint32(chunkSize))
	_ = binary.Write(&out, binary.LittleEndian, uint32(len(p.strings)))
	_ = binary.Write(&out, binary.LittleEndian, uint32(0)) // styleCount
	_ = binary.Write(&out, binary.LittleEndian, uint32(0)) // flags: UTF-16
	_ = binary.Write(&out, binary.LittleEndian, uint32(stringsStart))
	_ = binary.Write(&out, binary.LittleEndian, uint32(0)) // stylesStart
	for _, off := range offsets {
		_ = binary.Write(&out, binary.LittleEndian, off)
	}
	out.Write(data.Bytes())
	return out.Bytes()
}

func (p *stringPool) serializeResourceMap() []byte {
	var out bytes.Buffer
	writeChunkHeader(&out, chunkResourceMap, 8, uint32(8+4*len(p.resourceIDs)))
	for _, id := range p.resourceIDs {
		_ = binary.Write(&out, binary.LittleEndian, id)
	}
	return out.Bytes()
}

func writeChunkHeader(out *bytes.Buffer, chunkType uint16, headerSize uint16, chunkSize uint32) {
	_ = binary.Write(out, binary.LittleEndian, chunkType)
	_ = binary.Write(out, binary.LittleEndian, headerSize)
	_ = binary.Write(out, binary.LittleEndian, chunkSize)
}

func writeXMLChunkHeader(out *bytes.Buffer, chunkType uint16, chunkSize uint32, line uint32) {
	writeChunkHeader(out, chunkType, 16, chunkSize)
	_ = binary.Write(out, binary.LittleEndian, line)
	_ = binary.Write(out, binary.LittleEndian, uint32(noEntry)) // comment
}

func writeNamespaceChunk(out *bytes.Buffer, chunkType uint16, line uint32, prefixIdx, uriIdx uint32) {
	writeXMLChunkHeader(out, chunkType, 24, line)
	_ = binary.Write(out, binary.LittleEndian, prefixIdx)
	_ = binary.Write(out, binary.LittleEndian, uriIdx)
}

func writeStartElementChunk(out *bytes.Buffer, line uint32, e StartElement, pool *stringPool) {
	const attrExtSize = 20
	const attrSize = 20
	chunkSize := uint32(16 + attrExtSize + attrSize*len(e.Attributes))
	writeXMLChunkHeader(out, chunkStartElement, chunkSize, line)
	_ = binary.Write(out, binary.LittleEndian, nsIndex(e.NamespaceURI, pool))
	_ = binary.Write(out, binary.LittleEndian, pool.index(e.Name))
	_ = binary.Write(out, binary.LittleEndian, uint16(attrExtSize))
	_ = binary.Write(out, binary.LittleEndian, uint16(attrSize))
	_ = binary.Write(out, binary.LittleEndian, uint16(len(e.Attributes)))
	_ = binary.Write(out, binary.LittleEndian, uint16(0)) // idIndex
	_ = binary.Write(out, binary.LittleEndian, uint16(0)) // classIndex
	_ = binary.Write(out, binary.LittleEndian, uint16(0)) // styleIndex
	for _, attr := range e.Attributes {
		writeAttribute(out, attr, pool)
	}
}

func writeAttribute(out *bytes.Buffer, attr Attribute, pool *stringPool) {
	_ = binary.Write(out, binary.LittleEndian, nsIndex(attr.NamespaceURI, pool))
	_ = binary.Write(out, binary.LittleEndian, pool.index(attr.Name))

	var dataType byte
	var data uint32
	rawValue := uint32(noEntry)
	switch attr.Value.Kind {
	case ValueString:
		dataType = typeString
		data = pool.index(attr.Value.Str)
		rawValue = data
	case ValueInt:
		dataType = typeIntDec
		data = uint32(attr.Value.Int)
	case ValueBool:
		dataType = typeBoolean
		if attr.Value.Bool {
			data = noEntry
		}
	case ValueReference:
		dataType = typeReference
		data = attr.Value.Ref
	case ValueRaw:
		dataType = attr.Value.RawType
		data = attr.Value.RawData
	}

	_ = binary.Write(out, binary.LittleEndian, rawValue)
	_ = binary.Write(out, binary.LittleEndian, uint16(8)) // typed value size
	out.WriteByte(0)                                      // res0
	out.WriteByte(dataType)
	_ = binary.Write(out, binary.LittleEndian, data)
}

func writeEndElementChunk(out *bytes.Buffer, line uint32, e EndElement, pool *stringPool) {
	writeXMLChunkHeader(out, chunkEndElement, 24, line)
	_ = binary.Write(out, binary.LittleEndian, nsIndex(e.NamespaceURI, pool))
	_ = binary.Write(out, binary.LittleEndian, pool.index(e.Name))
}

func nsIndex(uri string, pool *stringPool) uint32 {
	if uri == "" {
		return noEntry
	}
	return pool.index(uri)
}

package axml

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf16"

	"github.com/Fernthedev/ModsBeforeFriday/internal/pkg/mbferror"
)

// Reader decodes a binary manifest into a stream of events.
type Reader struct {
	data    []byte
	pos     int
	strings []string
	// resourceIDs maps string-pool indexes to attribute resource IDs.
	resourceIDs []uint32
}

// NewReader parses the file header, string pool and resource map. The input
// is externally supplied and potentially adversarial; every offset is bounds
// checked.
func NewReader(data []byte) (*Reader, error) {
	r := &Reader{data: data}
	chunkType, _, fileSize, err := r.readChunkHeader()
	if err != nil {
		return nil, err
	}
	if chunkType != chunkXML {
		return nil, fmt.Errorf("%w: not a binary XML file (type 0x%04x)", mbferror.ErrMalformedManifest, chunkType)
	}
	if int(fileSize) > len(data) {
		return nil, fmt.Errorf("%w: declared size %d exceeds input length %d", mbferror.ErrMalformedManifest, fileSize, len(data))
	}
	r.data = data[:fileSize]

	if err := r.readStringPool(); err != nil {
		return nil, err
	}
	if err := r.readResourceMap(); err != nil {
		return nil, err
	}
	return r, nil
}

// Next returns the next event, or io.EOF after the last chunk.
func (r *Reader) Next() (Event, error) {
	for {
		if r.pos >= len(r.data) {
			return nil, io.EOF
		}
		chunkStart := r.pos
		chunkType, headerSize, chunkSize, err := r.readChunkHeader()
		if err != nil {
			return nil, err
		}
		if int(headerSize) < 8 || chunkStart+int(chunkSize) > len(r.data) || chunkSize < uint32(headerSize) {
			return nil, fmt.Errorf("%w: chunk 0x%04x overruns file", mbferror.ErrMalformedManifest, chunkType)
		}
		chunkEnd := chunkStart + int(chunkSize)
		// Skip lineNumber and comment.
		if _, err := r.readU32(); err != nil {
			return nil, err
		}
		if _, err := r.readU32(); err != nil {
			return nil, err
		}

		var ev Event
		switch chunkType {
		case chunkStartNamespace, chunkEndNamespace:
			ev, err = r.readNamespace(chunkType)
		case chunkStartElement:
			ev, err = r.readStartElement()
		case chunkEndElement:
			ev, err = r.readEndElement()
		case chunkCData:
			// Manifests carry no meaningful character data.
			ev = nil
		default:
			return nil, fmt.Errorf("%w: unexpected chunk type 0x%04x", mbferror.ErrMalformedManifest, chunkType)
		}
		if err != nil {
			return nil, err
		}
		r.pos = chunkEnd
		if ev != nil {
			return ev, nil
		}
	}
}

func (r *Reader) readNamespace(chunkType uint16) (Event, error) {
	prefixIdx, err := r.readU32()
	if err != nil {
		return nil, err
	}
	uriIdx, err := r.readU32()
	if err != nil {
		return nil, err
	}
	prefix, err := r.stringAt(prefixIdx)
	if err != nil {
		return nil, err
	}
	uri, err := r.stringAt(uriIdx)
	if err != nil {
		return nil, err
	}
	if chunkType == chunkStartNamespace {
		return StartNamespace{Prefix: prefix, URI: uri}, nil
	}
	return EndNamespace{Prefix: prefix, URI: uri}, nil
}

func (r *Reader) readStartElement() (Event, error) {
	nsIdx, err := r.readU32()
	if err != nil {
		return nil, err
	}
	nameIdx, err := r.readU32()
	if err != nil {
		return nil, err
	}
	// attributeStart, attributeSize
	if _, err := r.readU16(); err != nil {
		return nil, err
	}
	if _, err := r.readU16(); err != nil {
		return nil, err
	}
	attrCount, err := r.readU16()
	if err != nil {
		return nil, err
	}
	// id, class and style attribute indexes.
	for i := 0; i < 3; i++ {
		if _, err := r.readU16(); err != nil {
			return nil, err
		}
	}

	name, err := r.stringAt(nameIdx)
	if err != nil {
		return nil, err
	}
	el := StartElement{Name: name}
	if nsIdx != noEntry {
		if el.NamespaceURI, err = r.stringAt(nsIdx); err != nil {
			return nil, err
		}
	}
	for i := 0; i < int(attrCount); i++ {
		attr, err := r.readAttribute()
		if err != nil {
			return nil, err
		}
		el.Attributes = append(el.Attributes, attr)
	}
	return el, nil
}

func (r *Reader) readAttribute() (Attribute, error) {
	var attr Attribute
	nsIdx, err := r.readU32()
	if err != nil {
		return attr, err
	}
	nameIdx, err := r.readU32()
	if err != nil {
		return attr, err
	}
	// rawValue: redundant with the typed value for strings.
	if _, err := r.readU32(); err != nil {
		return attr, err
	}
	// typed value: size, res0, dataType, data.
	if _, err := r.readU16(); err != nil {
		return attr, err
	}
	sizeRes0, err := r.readU16()
	if err != nil {
		return attr, err
	}
	dataType := byte(sizeRes0 >> 8)
	data, err := r.readU32()
	if err != nil {
		return attr, err
	}

	if attr.Name, err = r.stringAt(nameIdx); err != nil {
		return attr, err
	}
	if nsIdx != noEntry {
		if attr.NamespaceURI, err = r.stringAt(nsIdx); err != nil {
			return attr, err
		}
	}
	if int(nameIdx) < len(r.resourceIDs) {
		attr.ResourceID = r.resourceIDs[nameIdx]
	}

	switch dataType {
	case typeString:
		s, err := r.stringAt(data)
		if err != nil {
			return attr, err
		}
		attr.Value = StringValue(s)
	case typeIntDec:
		attr.Value = IntValue(int32(data))
	case typeBoolean:
		attr.Value = BoolValue(data != 0)
	case typeReference:
		attr.Value = ReferenceValue(data)
	default:
		attr.Value = Value{Kind: ValueRaw, RawType: dataType, RawData: data}
	}
	return attr, nil
}

func (r *Reader) readEndElement() (Event, error) {
	nsIdx, err := r.readU32()
	if err != nil {
		return nil, err
	}
	nameIdx, err := r.readU32()
	if err != nil {
		return nil, err
	}
	name, err := r.stringAt(nameIdx)
	if err != nil {
		return nil, err
	}
	el := EndElement{Name: name}
	if nsIdx != noEntry {
		if el.NamespaceURI, err = r.stringAt(nsIdx); err != nil {
			return nil, err
		}
	}
	return el, nil
}

func (r *Reader) readStringPool() error {
	chunkStart := r.pos
	chunkType, _, chunkSize, err := r.readChunkHeader()
	if err != nil {
		return err
	}
	if chunkType != chunkStringPool {
		return fmt.Errorf("%w: expected string pool, got chunk 0x%04x", mbferror.ErrMalformedManifest, chunkType)
	}
	if chunkStart+int(chunkSize) > len(r.data) {
		return fmt.Errorf("%w: string pool overruns file", mbferror.ErrMalformedManifest)
	}
	stringCount, err := r.readU32()
	if err != nil {
		return err
	}
	// styleCount
	if _, err := r.readU32(); err != nil {
		return err
	}
	flags, err := r.readU32()
	if err != nil {
		return err
	}
	const utf8Flag = 1 << 8
	if flags&utf8Flag != 0 {
		return fmt.Errorf("%w: UTF-8 string pools are not used in manifests", mbferror.ErrMalformedManifest)
	}
	stringsStart, err := r.readU32()
	if err != nil {
		return err
	}
	// stylesStart
	if _, err := r.readU32(); err != nil {
		return err
	}

	poolBase := chunkStart + int(stringsStart)
	for i := 0; i < int(stringCount); i++ {
		offset, err := r.readU32()
		if err != nil {
			return err
		}
		s, err := decodeUTF16String(r.data, poolBase+int(offset))
		if err != nil {
			return err
		}
		r.strings = append(r.strings, s)
	}
	r.pos = chunkStart + int(chunkSize)
	return nil
}

func (r *Reader) readResourceMap() error {
	if r.pos+8 > len(r.data) {
		return nil
	}
	chunkStart := r.pos
	chunkType := binary.LittleEndian.Uint16(r.data[r.pos:])
	if chunkType != chunkResourceMap {
		// Resource map is optional.
		return nil
	}
	_, _, chunkSize, err := r.readChunkHeader()
	if err != nil {
		return err
	}
	if chunkStart+int(chunkSize) > len(r.data) || chunkSize < 8 {
		return fmt.Errorf("%w: resource map overruns file", mbferror.ErrMalformedManifest)
	}
	for i := 0; i < int(chunkSize-8)/4; i++ {
		id, err := r.readU32()
		if err != nil {
			return err
		}
		r.resourceIDs = append(r.resourceIDs, id)
	}
	r.pos = chunkStart + int(chunkSize)
	return nil
}

func (r *Reader) readChunkHeader() (chunkType uint16, headerSize uint16, chunkSize uint32, err error) {
	if r.pos+8 > len(r.data) {
		return 0, 0, 0, fmt.Errorf("%w: truncated chunk header", mbferror.ErrMalformedManifest)
	}
	chunkType = binary.LittleEndian.Uint16(r.data[r.pos:])
	headerSize = binary.LittleEndian.Uint16(r.data[r.pos+2:])
	chunkSize = binary.LittleEndian.Uint32(r.data[r.pos+4:])
	r.pos += 8
	return chunkType, headerSize, chunkSize, nil
}

func (r *Reader) readU32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("%w: unexpected end of chunk", mbferror.ErrMalformedManifest)
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) readU16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, fmt.Errorf("%w: unexpected end of chunk", mbferror.ErrMalformedManifest)
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) stringAt(idx uint32) (string, error) {
	if int(idx) >= len(r.strings) {
		return "", fmt.Errorf("%w: string index %d out of range", mbferror.ErrMalformedManifest, idx)
	}
	return r.strings[idx], nil
}

// decodeUTF16String reads one length-prefixed UTF-16LE string from the pool.
func decodeUTF16String(data []byte, at int) (string, error) {
	if at+2 > len(data) {
		return "", fmt.Errorf("%w: string offset out of range", mbferror.ErrMalformedManifest)
	}
	charCount := int(binary.LittleEndian.Uint16(data[at:]))
	at += 2
	if charCount&0x8000 != 0 {
		// Lengths >= 0x8000 use a two-word prefix.
		if at+2 > len(data) {
			return "", fmt.Errorf("%w: truncated long string length", mbferror.ErrMalformedManifest)
		}
		charCount = (charCount&0x7FFF)<<16 | int(binary.LittleEndian.Uint16(data[at:]))
		at += 2
	}
	if at+charCount*2 > len(data) {
		return "", fmt.Errorf("%w: string data out of range", mbferror.ErrMalformedManifest)
	}
	units := make([]uint16, charCount)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(data[at+i*2:])
	}
	return string(utf16.Decode(units)), nil
}

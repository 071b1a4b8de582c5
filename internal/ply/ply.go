// Package ply reads and rewrites binary PLY point clouds without losing
// any element or property it does not understand.
package ply

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	FormatBinaryLE = "binary_little_endian"
	FormatBinaryBE = "binary_big_endian"
	FormatASCII    = "ascii"
)

var (
	ErrMalformed         = errors.New("ply: malformed file")
	ErrUnsupportedFormat = errors.New("ply: unsupported format")
	ErrNoVertexElement   = errors.New("ply: no vertex element")
)

var typeSizes = map[string]int{
	"char": 1, "int8": 1,
	"uchar": 1, "uint8": 1,
	"short": 2, "int16": 2,
	"ushort": 2, "uint16": 2,
	"int": 4, "int32": 4,
	"uint": 4, "uint32": 4,
	"float": 4, "float32": 4,
	"double": 8, "float64": 8,
}

type Property struct {
	Name string
	Type string
	// List properties carry a count of CountType followed by that many Type values.
	IsList    bool
	CountType string
}

func (p Property) headerLine() string {
	if p.IsList {
		return fmt.Sprintf("property list %s %s %s", p.CountType, p.Type, p.Name)
	}
	return fmt.Sprintf("property %s %s", p.Type, p.Name)
}

type Element struct {
	Name       string
	Count      int
	Properties []Property
	// Data is the element's raw body, kept verbatim.
	Data []byte
}

// Index returns the position of the named property, or -1.
func (e *Element) Index(name string) int {
	for i, p := range e.Properties {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func (e *Element) Has(name string) bool {
	return e.Index(name) >= 0
}

// Stride is the fixed record size, or 0 when the element has list properties.
func (e *Element) Stride() int {
	n := 0
	for _, p := range e.Properties {
		if p.IsList {
			return 0
		}
		n += typeSizes[p.Type]
	}
	return n
}

// Offset is the byte offset of the named scalar property within a record.
func (e *Element) Offset(name string) (int, string, bool) {
	off := 0
	for _, p := range e.Properties {
		if p.IsList {
			return 0, "", false
		}
		if p.Name == name {
			return off, p.Type, true
		}
		off += typeSizes[p.Type]
	}
	return 0, "", false
}

type File struct {
	Format   string
	Version  string
	Comments []string // comment and obj_info lines, verbatim
	Elements []*Element
	Trailing []byte
}

func (f *File) Order() binary.ByteOrder {
	if f.Format == FormatBinaryBE {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (f *File) Element(name string) *Element {
	for _, e := range f.Elements {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// Vertex returns the vertex element or ErrNoVertexElement.
func (f *File) Vertex() (*Element, error) {
	if v := f.Element("vertex"); v != nil {
		return v, nil
	}
	return nil, ErrNoVertexElement
}

// Parse decodes a binary PLY file. Element bodies are sliced out of data
// without copying.
func Parse(data []byte) (*File, error) {
	end := bytes.Index(data, []byte("end_header"))
	if end < 0 {
		return nil, fmt.Errorf("%w: no end_header", ErrMalformed)
	}
	nl := bytes.IndexByte(data[end:], '\n')
	if nl < 0 {
		return nil, fmt.Errorf("%w: header not terminated", ErrMalformed)
	}
	body := data[end+nl+1:]

	f := &File{}
	sc := bufio.NewScanner(bytes.NewReader(data[:end]))
	first := true
	var cur *Element
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if first {
			if line != "ply" {
				return nil, fmt.Errorf("%w: missing magic", ErrMalformed)
			}
			first = false
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			if len(fields) != 3 {
				return nil, fmt.Errorf("%w: bad format line %q", ErrMalformed, line)
			}
			f.Format, f.Version = fields[1], fields[2]
		case "comment", "obj_info":
			f.Comments = append(f.Comments, line)
		case "element":
			if len(fields) != 3 {
				return nil, fmt.Errorf("%w: bad element line %q", ErrMalformed, line)
			}
			n, err := strconv.Atoi(fields[2])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: bad element count %q", ErrMalformed, fields[2])
			}
			cur = &Element{Name: fields[1], Count: n}
			f.Elements = append(f.Elements, cur)
		case "property":
			if cur == nil {
				return nil, fmt.Errorf("%w: property before element", ErrMalformed)
			}
			p, err := parseProperty(fields)
			if err != nil {
				return nil, err
			}
			cur.Properties = append(cur.Properties, p)
		default:
			return nil, fmt.Errorf("%w: unknown header keyword %q", ErrMalformed, fields[0])
		}
	}
	if first {
		return nil, fmt.Errorf("%w: empty header", ErrMalformed)
	}

	switch f.Format {
	case FormatBinaryLE, FormatBinaryBE:
	case "":
		return nil, fmt.Errorf("%w: no format line", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Format)
	}

	order := f.Order()
	off := 0
	for _, e := range f.Elements {
		n, err := e.bodySize(body[off:], order)
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", e.Name, err)
		}
		e.Data = body[off : off+n]
		off += n
	}
	f.Trailing = body[off:]
	return f, nil
}

func parseProperty(fields []string) (Property, error) {
	if len(fields) == 5 && fields[1] == "list" {
		if _, ok := typeSizes[fields[2]]; !ok {
			return Property{}, fmt.Errorf("%w: unknown count type %q", ErrMalformed, fields[2])
		}
		if _, ok := typeSizes[fields[3]]; !ok {
			return Property{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, fields[3])
		}
		return Property{Name: fields[4], Type: fields[3], IsList: true, CountType: fields[2]}, nil
	}
	if len(fields) != 3 {
		return Property{}, fmt.Errorf("%w: bad property line %q", ErrMalformed, strings.Join(fields, " "))
	}
	if _, ok := typeSizes[fields[1]]; !ok {
		return Property{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, fields[1])
	}
	return Property{Name: fields[2], Type: fields[1]}, nil
}

func (e *Element) bodySize(body []byte, order binary.ByteOrder) (int, error) {
	if stride := e.Stride(); stride > 0 || len(e.Properties) == 0 {
		n := stride * e.Count
		if n > len(body) {
			return 0, fmt.Errorf("%w: truncated body", ErrMalformed)
		}
		return n, nil
	}

	off := 0
	for i := 0; i < e.Count; i++ {
		for _, p := range e.Properties {
			if !p.IsList {
				off += typeSizes[p.Type]
				continue
			}
			cs := typeSizes[p.CountType]
			if off+cs > len(body) {
				return 0, fmt.Errorf("%w: truncated list", ErrMalformed)
			}
			cnt := readScalar(body[off:], p.CountType, order)
			if cnt < 0 || math.IsNaN(cnt) {
				return 0, fmt.Errorf("%w: negative list count", ErrMalformed)
			}
			off += cs + int(cnt)*typeSizes[p.Type]
		}
		if off > len(body) {
			return 0, fmt.Errorf("%w: truncated body", ErrMalformed)
		}
	}
	return off, nil
}

// Encode writes f back out; bodies are emitted verbatim.
func (f *File) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString("ply\n")
	fmt.Fprintf(&buf, "format %s %s\n", f.Format, f.Version)
	for _, c := range f.Comments {
		buf.WriteString(c)
		buf.WriteByte('\n')
	}
	for _, e := range f.Elements {
		fmt.Fprintf(&buf, "element %s %d\n", e.Name, e.Count)
		for _, p := range e.Properties {
			buf.WriteString(p.headerLine())
			buf.WriteByte('\n')
		}
	}
	buf.WriteString("end_header\n")
	for _, e := range f.Elements {
		buf.Write(e.Data)
	}
	buf.Write(f.Trailing)
	return buf.Bytes()
}

// Float reads the named scalar property of record i as float64.
func (f *File) Float(e *Element, i int, name string) (float64, bool) {
	off, typ, ok := e.Offset(name)
	stride := e.Stride()
	if !ok || stride == 0 {
		return 0, false
	}
	return readScalar(e.Data[i*stride+off:], typ, f.Order()), true
}

func readScalar(b []byte, typ string, order binary.ByteOrder) float64 {
	switch typ {
	case "char", "int8":
		return float64(int8(b[0]))
	case "uchar", "uint8":
		return float64(b[0])
	case "short", "int16":
		return float64(int16(order.Uint16(b)))
	case "ushort", "uint16":
		return float64(order.Uint16(b))
	case "int", "int32":
		return float64(int32(order.Uint32(b)))
	case "uint", "uint32":
		return float64(order.Uint32(b))
	case "float", "float32":
		return float64(math.Float32frombits(order.Uint32(b)))
	case "double", "float64":
		return math.Float64frombits(order.Uint64(b))
	}
	return 0
}

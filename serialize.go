package symflow

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Wire format node tags.
const (
	tagBasic   = 0
	tagCompare = 1
	tagBinary  = 2
	tagUnary   = 3
	tagDeref   = 4
	tagConst   = 5
)

// SerializeExpr returns the wire form of e: a prefix, tagged,
// self-describing binary encoding. Multi-byte fields are little-endian
// regardless of the configured target endianness.
//
//	expr    := <value:i64> <size:u64> <tag:u8> <payload>
//	payload := Basic   <var:u32>
//	         | Compare <op:u8> expr expr
//	         | Binary  <op:u8> expr expr
//	         | Unary   <op:u8> expr
//	         | Deref   <object> expr <bytes:object.size>
//	         | Const   (empty)
func SerializeExpr(e Expr) []byte {
	var buf bytes.Buffer
	e.writeTo(&buf)
	return buf.Bytes()
}

// writeHeader appends the common node prefix.
func writeHeader(buf *bytes.Buffer, value Value, size uint, tag byte) {
	var b [17]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(value))
	binary.LittleEndian.PutUint64(b[8:16], uint64(size))
	b[16] = tag
	buf.Write(b[:])
}

func (e *ConcreteExpr) writeTo(buf *bytes.Buffer) {
	writeHeader(buf, e.value, e.size, tagConst)
}

func (e *BasicExpr) writeTo(buf *bytes.Buffer) {
	writeHeader(buf, e.value, e.size, tagBasic)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], e.variable)
	buf.Write(b[:])
}

func (e *UnaryExpr) writeTo(buf *bytes.Buffer) {
	writeHeader(buf, e.value, e.size, tagUnary)
	buf.WriteByte(byte(e.op))
	e.child.writeTo(buf)
}

func (e *BinaryExpr) writeTo(buf *bytes.Buffer) {
	writeHeader(buf, e.value, e.size, tagBinary)
	buf.WriteByte(byte(e.op))
	e.left.writeTo(buf)
	e.right.writeTo(buf)
}

func (e *CompareExpr) writeTo(buf *bytes.Buffer) {
	writeHeader(buf, e.value, e.size, tagCompare)
	buf.WriteByte(byte(e.op))
	e.left.writeTo(buf)
	e.right.writeTo(buf)
}

func (e *DerefExpr) writeTo(buf *bytes.Buffer) {
	writeHeader(buf, e.value, e.size, tagDeref)
	e.obj.writeTo(buf)
	e.addr.writeTo(buf)
	buf.Write(e.bytes)
}

// writeTo appends the object's wire form: <start:u64> <size:u64> <elem:i8>.
func (o *SymbolicObject) writeTo(buf *bytes.Buffer) {
	var b [17]byte
	binary.LittleEndian.PutUint64(b[0:8], o.start)
	binary.LittleEndian.PutUint64(b[8:16], uint64(o.size))
	b[16] = byte(o.elem)
	buf.Write(b[:])
}

// SerializeObject returns the wire form of o.
func SerializeObject(o *SymbolicObject) []byte {
	var buf bytes.Buffer
	o.writeTo(&buf)
	return buf.Bytes()
}

// ParseExpr reads one expression from r. Parsing is strict: any short
// read aborts and returns ErrNoExpr, and no partial tree escapes.
func ParseExpr(r io.Reader) (Expr, error) {
	var hdr [17]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, ErrNoExpr
	}
	value := Value(binary.LittleEndian.Uint64(hdr[0:8]))
	size := uint(binary.LittleEndian.Uint64(hdr[8:16]))

	switch hdr[16] {
	case tagBasic:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, ErrNoExpr
		}
		return &BasicExpr{size: size, value: value, variable: binary.LittleEndian.Uint32(b[:])}, nil

	case tagCompare:
		op, err := readByte(r)
		if err != nil {
			return nil, ErrNoExpr
		}
		left, err := ParseExpr(r)
		if err != nil {
			return nil, ErrNoExpr
		}
		right, err := ParseExpr(r)
		if err != nil {
			return nil, ErrNoExpr
		}
		return &CompareExpr{size: size, value: value, op: CompareOp(op), left: left, right: right}, nil

	case tagBinary:
		op, err := readByte(r)
		if err != nil {
			return nil, ErrNoExpr
		}
		left, err := ParseExpr(r)
		if err != nil {
			return nil, ErrNoExpr
		}
		right, err := ParseExpr(r)
		if err != nil {
			return nil, ErrNoExpr
		}
		return &BinaryExpr{size: size, value: value, op: BinaryOp(op), left: left, right: right}, nil

	case tagUnary:
		op, err := readByte(r)
		if err != nil {
			return nil, ErrNoExpr
		}
		child, err := ParseExpr(r)
		if err != nil {
			return nil, ErrNoExpr
		}
		return &UnaryExpr{size: size, value: value, op: UnaryOp(op), child: child}, nil

	case tagDeref:
		obj, err := ParseObject(r)
		if err != nil {
			return nil, ErrNoExpr
		}
		addr, err := ParseExpr(r)
		if err != nil {
			return nil, ErrNoExpr
		}
		snapshot := make([]byte, obj.Size())
		if _, err := io.ReadFull(r, snapshot); err != nil {
			return nil, ErrNoExpr
		}
		return &DerefExpr{size: size, value: value, obj: obj, addr: addr, bytes: snapshot}, nil

	case tagConst:
		return &ConcreteExpr{size: size, value: value}, nil

	default:
		return nil, ErrNoExpr
	}
}

// ParseObject reads one object descriptor from r.
func ParseObject(r io.Reader) (*SymbolicObject, error) {
	var b [17]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, ErrNoExpr
	}
	return &SymbolicObject{
		start: binary.LittleEndian.Uint64(b[0:8]),
		size:  uint(binary.LittleEndian.Uint64(b[8:16])),
		elem:  Type(int8(b[16])),
	}, nil
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	_, err := io.ReadFull(r, b[:])
	return b[0], err
}

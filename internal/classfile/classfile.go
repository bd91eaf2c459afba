// Package classfile decodes JVM class files into the structural events the
// graph loader consumes: the class header, method definitions, call sites
// inside method bodies, and nesting relationships.
package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const magic = 0xCAFEBABE

var (
	// ErrBadMagic is returned when the input does not start with 0xCAFEBABE.
	ErrBadMagic = errors.New("not a class file")

	// ErrTruncated is returned when the input ends before a structure does.
	ErrTruncated = errors.New("truncated class file")

	// ErrBadConstant is returned for malformed or mistyped constant pool references.
	ErrBadConstant = errors.New("bad constant pool entry")

	// ErrBadInstruction is returned when a method body holds an unknown opcode.
	ErrBadInstruction = errors.New("bad instruction")
)

// ClassFile is the structural content of one decoded class file.
type ClassFile struct {
	MajorVersion uint16
	AccessFlags  uint16
	Name         string
	// SuperName is the superclass. The root type has none and reports its
	// own name instead, so SuperName is never empty.
	SuperName  string
	Interfaces []string
	Methods    []Method
	// EnclosingClass is set for local and anonymous classes (the
	// EnclosingMethod attribute).
	EnclosingClass string
	InnerClasses   []InnerClass
}

// Method is a method declared by the class together with the call sites in
// its body, in instruction order. Abstract and native methods have no calls.
type Method struct {
	AccessFlags uint16
	Name        string
	Desc        string
	Calls       []CallInsn
}

// Decode reads and parses a class file.
func Decode(r io.Reader) (*ClassFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read class file: %w", err)
	}
	return Parse(data)
}

// Parse parses class file bytes.
func Parse(data []byte) (*ClassFile, error) {
	r := &reader{buf: data}
	if r.u4() != magic {
		if r.err != nil {
			return nil, r.err
		}
		return nil, ErrBadMagic
	}
	cf := &ClassFile{}
	r.u2() // minor
	cf.MajorVersion = r.u2()
	if r.err != nil {
		return nil, r.err
	}

	cp, err := readConstantPool(r)
	if err != nil {
		return nil, err
	}

	cf.AccessFlags = r.u2()
	thisIdx := r.u2()
	superIdx := r.u2()
	if r.err != nil {
		return nil, r.err
	}
	if cf.Name, err = cp.className(thisIdx); err != nil {
		return nil, fmt.Errorf("this class: %w", err)
	}
	if superIdx == 0 {
		cf.SuperName = cf.Name
	} else if cf.SuperName, err = cp.className(superIdx); err != nil {
		return nil, fmt.Errorf("super class: %w", err)
	}

	n := int(r.u2())
	for i := 0; i < n; i++ {
		idx := r.u2()
		if r.err != nil {
			return nil, r.err
		}
		name, err := cp.className(idx)
		if err != nil {
			return nil, fmt.Errorf("interface %d: %w", i, err)
		}
		cf.Interfaces = append(cf.Interfaces, name)
	}

	// Fields carry nothing the graph records.
	n = int(r.u2())
	for i := 0; i < n; i++ {
		r.skip(6)
		skipAttributes(r)
	}
	if r.err != nil {
		return nil, r.err
	}

	n = int(r.u2())
	for i := 0; i < n; i++ {
		m, err := readMethod(r, cp)
		if err != nil {
			return nil, fmt.Errorf("method %d: %w", i, err)
		}
		cf.Methods = append(cf.Methods, m)
	}

	if err := readClassAttributes(r, cp, cf); err != nil {
		return nil, err
	}
	return cf, nil
}

func readMethod(r *reader, cp constantPool) (Method, error) {
	var m Method
	var err error
	m.AccessFlags = r.u2()
	nameIdx, descIdx := r.u2(), r.u2()
	if r.err != nil {
		return m, r.err
	}
	if m.Name, err = cp.utf8(nameIdx); err != nil {
		return m, err
	}
	if m.Desc, err = cp.utf8(descIdx); err != nil {
		return m, err
	}
	count := int(r.u2())
	for i := 0; i < count; i++ {
		attrName, body, err := readAttribute(r, cp)
		if err != nil {
			return m, err
		}
		if attrName != "Code" {
			continue
		}
		code, err := codeBytes(body)
		if err != nil {
			return m, fmt.Errorf("%s%s: %w", m.Name, m.Desc, err)
		}
		if m.Calls, err = scanCalls(code, cp); err != nil {
			return m, fmt.Errorf("%s%s: %w", m.Name, m.Desc, err)
		}
	}
	return m, r.err
}

// codeBytes extracts the bytecode array from a Code attribute body.
func codeBytes(body []byte) ([]byte, error) {
	r := &reader{buf: body}
	r.skip(4) // max_stack, max_locals
	n := int(r.u4())
	code := r.bytes(n)
	return code, r.err
}

func readClassAttributes(r *reader, cp constantPool, cf *ClassFile) error {
	count := int(r.u2())
	for i := 0; i < count; i++ {
		attrName, body, err := readAttribute(r, cp)
		if err != nil {
			return err
		}
		switch attrName {
		case "EnclosingMethod":
			br := &reader{buf: body}
			classIdx := br.u2()
			if br.err != nil {
				return br.err
			}
			if cf.EnclosingClass, err = cp.className(classIdx); err != nil {
				return fmt.Errorf("enclosing class: %w", err)
			}
		case "InnerClasses":
			if cf.InnerClasses, err = readInnerClasses(body, cp); err != nil {
				return fmt.Errorf("inner classes: %w", err)
			}
		}
	}
	return r.err
}

func readInnerClasses(body []byte, cp constantPool) ([]InnerClass, error) {
	r := &reader{buf: body}
	n := int(r.u2())
	var out []InnerClass
	for i := 0; i < n; i++ {
		innerIdx, outerIdx, nameIdx := r.u2(), r.u2(), r.u2()
		r.skip(2) // access flags
		if r.err != nil {
			return nil, r.err
		}
		var ic InnerClass
		var err error
		if ic.Name, err = cp.className(innerIdx); err != nil {
			return nil, err
		}
		if outerIdx != 0 {
			if ic.OuterName, err = cp.className(outerIdx); err != nil {
				return nil, err
			}
		}
		if nameIdx != 0 {
			if ic.InnerName, err = cp.utf8(nameIdx); err != nil {
				return nil, err
			}
		}
		out = append(out, ic)
	}
	return out, nil
}

func readAttribute(r *reader, cp constantPool) (string, []byte, error) {
	nameIdx := r.u2()
	length := int(r.u4())
	body := r.bytes(length)
	if r.err != nil {
		return "", nil, r.err
	}
	name, err := cp.utf8(nameIdx)
	if err != nil {
		return "", nil, fmt.Errorf("attribute name: %w", err)
	}
	return name, body, nil
}

func skipAttributes(r *reader) {
	n := int(r.u2())
	for i := 0; i < n; i++ {
		r.skip(2)
		r.skip(int(r.u4()))
	}
}

// reader is a big-endian cursor over a byte slice. The first short read
// sets err; later reads return zero values.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = ErrTruncated
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) skip(n int) { r.bytes(n) }

func (r *reader) u1() byte {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u2() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u4() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// Package classfiletest assembles minimal class files for tests.
package classfiletest

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// Invoke opcodes accepted by MethodBuilder.Call.
const (
	InvokeVirtual   byte = 0xb6
	InvokeSpecial   byte = 0xb7
	InvokeStatic    byte = 0xb8
	InvokeInterface byte = 0xb9
)

const opReturn = 0xb1

// Builder assembles a class file. Names may be given in binary
// (com.x.Foo) or internal (com/x/Foo) form.
type Builder struct {
	name       string
	super      string
	noSuper    bool
	interfaces []string
	methods    []*MethodBuilder
	enclosing  string
	inner      [][3]string
	longs      []int64

	pool  bytes.Buffer
	count uint16
	index map[string]uint16
}

// MethodBuilder assembles one method of a Builder.
type MethodBuilder struct {
	b        *Builder
	name     string
	desc     string
	abstract bool
	code     []func() []byte
}

// New starts a class named name extending java.lang.Object.
func New(name string) *Builder {
	return &Builder{name: internal(name), super: "java/lang/Object"}
}

// Super sets the superclass.
func (b *Builder) Super(name string) *Builder {
	b.super = internal(name)
	b.noSuper = false
	return b
}

// NoSuper leaves super_class zero, as only java.lang.Object does.
func (b *Builder) NoSuper() *Builder {
	b.noSuper = true
	return b
}

// Interfaces appends implemented interfaces.
func (b *Builder) Interfaces(names ...string) *Builder {
	for _, n := range names {
		b.interfaces = append(b.interfaces, internal(n))
	}
	return b
}

// Enclosing adds an EnclosingMethod attribute naming the outer class.
func (b *Builder) Enclosing(outer string) *Builder {
	b.enclosing = internal(outer)
	return b
}

// Inner adds an InnerClasses entry. outer and simpleName may be empty.
func (b *Builder) Inner(name, outer, simpleName string) *Builder {
	b.inner = append(b.inner, [3]string{internal(name), internal(outer), simpleName})
	return b
}

// Long adds a long constant, which occupies two constant pool slots.
func (b *Builder) Long(v int64) *Builder {
	b.longs = append(b.longs, v)
	return b
}

// Method adds a method and returns its builder.
func (b *Builder) Method(name, desc string) *MethodBuilder {
	m := &MethodBuilder{b: b, name: name, desc: desc}
	b.methods = append(b.methods, m)
	return m
}

// Abstract marks the method as having no Code attribute.
func (m *MethodBuilder) Abstract() *MethodBuilder {
	m.abstract = true
	return m
}

// Call appends a call instruction.
func (m *MethodBuilder) Call(op byte, owner, name, desc string) *MethodBuilder {
	owner = internal(owner)
	m.code = append(m.code, func() []byte {
		idx := m.b.methodRef(owner, name, desc, op == InvokeInterface)
		insn := []byte{op, byte(idx >> 8), byte(idx)}
		if op == InvokeInterface {
			insn = append(insn, 1, 0)
		}
		return insn
	})
	return m
}

// Raw appends raw bytecode, for exercising the instruction walker.
func (m *MethodBuilder) Raw(code ...byte) *MethodBuilder {
	m.code = append(m.code, func() []byte { return code })
	return m
}

// Done returns the class builder.
func (m *MethodBuilder) Done() *Builder { return m.b }

// Bytes assembles the class file.
func (b *Builder) Bytes() []byte {
	b.pool.Reset()
	b.count = 1
	b.index = make(map[string]uint16)

	thisIdx := b.class(b.name)
	var superIdx uint16
	if !b.noSuper {
		superIdx = b.class(b.super)
	}
	var ifaces []uint16
	for _, i := range b.interfaces {
		ifaces = append(ifaces, b.class(i))
	}
	for _, v := range b.longs {
		b.pool.WriteByte(5)
		_ = binary.Write(&b.pool, binary.BigEndian, v)
		b.count += 2
	}

	var methods bytes.Buffer
	for _, m := range b.methods {
		w16(&methods, 0x0001)
		w16(&methods, b.utf8(m.name))
		w16(&methods, b.utf8(m.desc))
		if m.abstract {
			w16(&methods, 0)
			continue
		}
		var code []byte
		for _, c := range m.code {
			code = append(code, c()...)
		}
		code = append(code, opReturn)
		w16(&methods, 1)
		w16(&methods, b.utf8("Code"))
		w32(&methods, uint32(2+2+4+len(code)+2+2))
		w16(&methods, 8) // max_stack
		w16(&methods, 8) // max_locals
		w32(&methods, uint32(len(code)))
		methods.Write(code)
		w16(&methods, 0) // exception table
		w16(&methods, 0) // attributes
	}

	var attrs bytes.Buffer
	nattrs := 0
	if b.enclosing != "" {
		nattrs++
		w16(&attrs, b.utf8("EnclosingMethod"))
		w32(&attrs, 4)
		w16(&attrs, b.class(b.enclosing))
		w16(&attrs, 0)
	}
	if len(b.inner) > 0 {
		nattrs++
		w16(&attrs, b.utf8("InnerClasses"))
		w32(&attrs, uint32(2+8*len(b.inner)))
		w16(&attrs, uint16(len(b.inner)))
		for _, ic := range b.inner {
			w16(&attrs, b.class(ic[0]))
			if ic[1] != "" {
				w16(&attrs, b.class(ic[1]))
			} else {
				w16(&attrs, 0)
			}
			if ic[2] != "" {
				w16(&attrs, b.utf8(ic[2]))
			} else {
				w16(&attrs, 0)
			}
			w16(&attrs, 0)
		}
	}

	var out bytes.Buffer
	w32(&out, 0xCAFEBABE)
	w16(&out, 0)  // minor
	w16(&out, 52) // Java 8
	w16(&out, b.count)
	out.Write(b.pool.Bytes())
	w16(&out, 0x0021) // public super
	w16(&out, thisIdx)
	w16(&out, superIdx)
	w16(&out, uint16(len(ifaces)))
	for _, i := range ifaces {
		w16(&out, i)
	}
	w16(&out, 0) // fields
	w16(&out, uint16(len(b.methods)))
	out.Write(methods.Bytes())
	w16(&out, uint16(nattrs))
	out.Write(attrs.Bytes())
	return out.Bytes()
}

func (b *Builder) intern(key string, write func()) uint16 {
	if idx, ok := b.index[key]; ok {
		return idx
	}
	write()
	idx := b.count
	b.count++
	b.index[key] = idx
	return idx
}

func (b *Builder) utf8(s string) uint16 {
	return b.intern("u:"+s, func() {
		b.pool.WriteByte(1)
		w16(&b.pool, uint16(len(s)))
		b.pool.WriteString(s)
	})
}

func (b *Builder) class(name string) uint16 {
	n := b.utf8(name)
	return b.intern("c:"+name, func() {
		b.pool.WriteByte(7)
		w16(&b.pool, n)
	})
}

func (b *Builder) methodRef(owner, name, desc string, iface bool) uint16 {
	c := b.class(owner)
	nn, dd := b.utf8(name), b.utf8(desc)
	nt := b.intern("nt:"+name+":"+desc, func() {
		b.pool.WriteByte(12)
		w16(&b.pool, nn)
		w16(&b.pool, dd)
	})
	tag := byte(10)
	if iface {
		tag = 11
	}
	return b.intern("m:"+owner+"."+name+desc+string(tag), func() {
		b.pool.WriteByte(tag)
		w16(&b.pool, c)
		w16(&b.pool, nt)
	})
}

func internal(name string) string { return strings.ReplaceAll(name, ".", "/") }

func w16(buf *bytes.Buffer, v uint16) { _ = binary.Write(buf, binary.BigEndian, v) }

func w32(buf *bytes.Buffer, v uint32) { _ = binary.Write(buf, binary.BigEndian, v) }

package classfile

import (
	"fmt"
	"strings"
	"unicode/utf16"
)

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

// constant is one constant pool entry. Only the fields meaningful for the
// tag are set; a and b hold referenced pool indexes.
type constant struct {
	tag  byte
	utf8 string
	a, b uint16
}

// constantPool is indexed from 1; slot 0 and the slot after every long or
// double are unusable and left zero.
type constantPool []constant

func readConstantPool(r *reader) (constantPool, error) {
	count := int(r.u2())
	if r.err != nil {
		return nil, r.err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: empty constant pool", ErrBadConstant)
	}
	cp := make(constantPool, count)
	for i := 1; i < count; i++ {
		tag := r.u1()
		c := constant{tag: tag}
		switch tag {
		case tagUtf8:
			n := int(r.u2())
			c.utf8 = decodeModifiedUTF8(r.bytes(n))
		case tagInteger, tagFloat:
			r.skip(4)
		case tagLong, tagDouble:
			r.skip(8)
			cp[i] = c
			i++
			continue
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			c.a = r.u2()
		case tagFieldref, tagMethodref, tagInterfaceMethodref, tagNameAndType, tagDynamic, tagInvokeDynamic:
			c.a = r.u2()
			c.b = r.u2()
		case tagMethodHandle:
			r.skip(1)
			c.a = r.u2()
		default:
			if r.err != nil {
				return nil, r.err
			}
			return nil, fmt.Errorf("%w: unknown tag %d at index %d", ErrBadConstant, tag, i)
		}
		if r.err != nil {
			return nil, r.err
		}
		cp[i] = c
	}
	return cp, nil
}

func (cp constantPool) entry(idx uint16, tag byte) (constant, error) {
	if idx == 0 || int(idx) >= len(cp) {
		return constant{}, fmt.Errorf("%w: index %d out of range", ErrBadConstant, idx)
	}
	c := cp[idx]
	if c.tag != tag {
		return constant{}, fmt.Errorf("%w: index %d has tag %d, want %d", ErrBadConstant, idx, c.tag, tag)
	}
	return c, nil
}

func (cp constantPool) utf8(idx uint16) (string, error) {
	c, err := cp.entry(idx, tagUtf8)
	if err != nil {
		return "", err
	}
	return c.utf8, nil
}

// className resolves a CONSTANT_Class entry to a binary name.
func (cp constantPool) className(idx uint16) (string, error) {
	c, err := cp.entry(idx, tagClass)
	if err != nil {
		return "", err
	}
	name, err := cp.utf8(c.a)
	if err != nil {
		return "", err
	}
	return BinaryName(name), nil
}

func (cp constantPool) nameAndType(idx uint16) (name, desc string, err error) {
	c, err := cp.entry(idx, tagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = cp.utf8(c.a); err != nil {
		return "", "", err
	}
	if desc, err = cp.utf8(c.b); err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// methodRef resolves a Methodref or InterfaceMethodref entry.
func (cp constantPool) methodRef(idx uint16) (owner, name, desc string, err error) {
	if idx == 0 || int(idx) >= len(cp) {
		return "", "", "", fmt.Errorf("%w: index %d out of range", ErrBadConstant, idx)
	}
	c := cp[idx]
	if c.tag != tagMethodref && c.tag != tagInterfaceMethodref {
		return "", "", "", fmt.Errorf("%w: index %d has tag %d, want a method reference", ErrBadConstant, idx, c.tag)
	}
	if owner, err = cp.className(c.a); err != nil {
		return "", "", "", err
	}
	if name, desc, err = cp.nameAndType(c.b); err != nil {
		return "", "", "", err
	}
	return owner, name, desc, nil
}

// BinaryName converts an internal name (com/x/Foo$Bar) to its binary form
// (com.x.Foo$Bar). Array descriptors keep their brackets.
func BinaryName(internal string) string {
	return strings.ReplaceAll(internal, "/", ".")
}

// decodeModifiedUTF8 decodes the class file variant of UTF-8: NUL is encoded
// in two bytes and supplementary characters as surrogate pairs.
func decodeModifiedUTF8(b []byte) string {
	ascii := true
	for _, c := range b {
		if c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b)
	}
	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0 && i+1 < len(b):
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case c&0xF0 == 0xE0 && i+2 < len(b):
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			units = append(units, 0xFFFD)
			i++
		}
	}
	return string(utf16.Decode(units))
}

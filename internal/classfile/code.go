package classfile

import (
	"encoding/binary"
	"fmt"
)

// Opcodes with operands the scanner needs to interpret.
const (
	opInvokeVirtual   = 0xb6
	opInvokeSpecial   = 0xb7
	opInvokeStatic    = 0xb8
	opInvokeInterface = 0xb9
	opTableSwitch     = 0xaa
	opLookupSwitch    = 0xab
	opWide            = 0xc4
	opIinc            = 0x84
)

// insnLength holds the total length (opcode included) of every fixed-size
// instruction. Zero marks variable-length or undefined opcodes.
var insnLength [256]int

func init() {
	set := func(from, to, n int) {
		for op := from; op <= to; op++ {
			insnLength[op] = n
		}
	}
	set(0x00, 0x0f, 1) // nop, constants
	set(0x10, 0x10, 2) // bipush
	set(0x11, 0x11, 3) // sipush
	set(0x12, 0x12, 2) // ldc
	set(0x13, 0x14, 3) // ldc_w, ldc2_w
	set(0x15, 0x19, 2) // loads with index
	set(0x1a, 0x35, 1) // load_n, array loads
	set(0x36, 0x3a, 2) // stores with index
	set(0x3b, 0x83, 1) // store_n, array stores, stack, arithmetic
	set(0x84, 0x84, 3) // iinc
	set(0x85, 0x98, 1) // conversions, comparisons
	set(0x99, 0xa8, 3) // branches, goto, jsr
	set(0xa9, 0xa9, 2) // ret
	set(0xac, 0xb1, 1) // returns
	set(0xb2, 0xb8, 3) // field access, invokevirtual/special/static
	set(0xb9, 0xba, 5) // invokeinterface, invokedynamic
	set(0xbb, 0xbb, 3) // new
	set(0xbc, 0xbc, 2) // newarray
	set(0xbd, 0xbd, 3) // anewarray
	set(0xbe, 0xbf, 1) // arraylength, athrow
	set(0xc0, 0xc1, 3) // checkcast, instanceof
	set(0xc2, 0xc3, 1) // monitorenter, monitorexit
	set(0xc5, 0xc5, 4) // multianewarray
	set(0xc6, 0xc7, 3) // ifnull, ifnonnull
	set(0xc8, 0xc9, 5) // goto_w, jsr_w
	set(0xca, 0xca, 1) // breakpoint
	set(0xfe, 0xff, 1) // impdep1, impdep2
}

// scanCalls walks a method body and returns its method call instructions in
// order. invokedynamic sites are not method calls and are skipped.
func scanCalls(code []byte, cp constantPool) ([]CallInsn, error) {
	var calls []CallInsn
	for pc := 0; pc < len(code); {
		op := code[pc]
		n, err := instructionLength(code, pc)
		if err != nil {
			return nil, err
		}
		if pc+n > len(code) {
			return nil, fmt.Errorf("%w: opcode 0x%02x at %d runs past end of code", ErrBadInstruction, op, pc)
		}
		switch op {
		case opInvokeVirtual, opInvokeSpecial, opInvokeStatic, opInvokeInterface:
			idx := binary.BigEndian.Uint16(code[pc+1:])
			owner, name, desc, err := cp.methodRef(idx)
			if err != nil {
				return nil, fmt.Errorf("call at %d: %w", pc, err)
			}
			calls = append(calls, CallInsn{Opcode: op, Owner: owner, Name: name, Desc: desc})
		}
		pc += n
	}
	return calls, nil
}

// instructionLength returns the byte length of the instruction at pc.
func instructionLength(code []byte, pc int) (int, error) {
	op := code[pc]
	switch op {
	case opTableSwitch:
		base := pc + 1 + pad(pc)
		if base+12 > len(code) {
			return 0, fmt.Errorf("%w: truncated tableswitch at %d", ErrBadInstruction, pc)
		}
		low := int32(binary.BigEndian.Uint32(code[base+4:]))
		high := int32(binary.BigEndian.Uint32(code[base+8:]))
		if high < low {
			return 0, fmt.Errorf("%w: tableswitch at %d has high < low", ErrBadInstruction, pc)
		}
		return base - pc + 12 + int(int64(high)-int64(low)+1)*4, nil
	case opLookupSwitch:
		base := pc + 1 + pad(pc)
		if base+8 > len(code) {
			return 0, fmt.Errorf("%w: truncated lookupswitch at %d", ErrBadInstruction, pc)
		}
		npairs := int32(binary.BigEndian.Uint32(code[base+4:]))
		if npairs < 0 {
			return 0, fmt.Errorf("%w: lookupswitch at %d has negative pair count", ErrBadInstruction, pc)
		}
		return base - pc + 8 + int(npairs)*8, nil
	case opWide:
		if pc+1 >= len(code) {
			return 0, fmt.Errorf("%w: truncated wide at %d", ErrBadInstruction, pc)
		}
		if code[pc+1] == opIinc {
			return 6, nil
		}
		return 4, nil
	}
	if n := insnLength[op]; n > 0 {
		return n, nil
	}
	return 0, fmt.Errorf("%w: opcode 0x%02x at %d", ErrBadInstruction, op, pc)
}

// pad returns the number of alignment bytes after a switch opcode at pc.
func pad(pc int) int {
	return (4 - (pc+1)%4) % 4
}

package vm

import (
	"fmt"

	e "github.com/loxvm/loxvm/errors"
)

//go:generate stringer -type=OpCode
type OpCode byte

const (
	OpReturn OpCode = iota
	OpConst
	OpNil
	OpTrue
	OpFalse
	OpPop
	OpGetLocal
	OpSetLocal
	OpGetGlobal
	OpDefGlobal
	OpSetGlobal
	OpEqual
	OpGreater
	OpLess
	OpAnd
	OpOr
	OpNot
	OpNeg
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpPrint
	OpJump
	OpJumpIfFalse
)

// MaxConsts is the largest number of constants a single Chunk may hold;
// ConstIdx is an 8-bit index (0..255), so the 257th registration is
// rejected.
const MaxConsts = 256

// MaxCode is the largest instruction count a Chunk may hold: jump operands
// are 16-bit absolute indices into ops, so an emission past this bound is
// rejected rather than silently wrapping.
const MaxCode = 1 << 16

// Chunk is an append-only compiled unit: an opcode stream, a parallel
// per-op line map, and an 8-bit-indexed constant pool. Once OpReturn has
// been written, the Chunk is considered frozen and Write panics on further
// use — the Compiler only ever calls endCompiler once per Chunk.
type Chunk struct {
	ops    []byte
	lines  []int
	consts []Value
	frozen bool
}

func NewChunk() *Chunk { return &Chunk{} }

// Write appends a single opcode/operand byte, tagged with the source line
// that produced it. The Contract |ops| == |lines| holds after every call.
func (c *Chunk) Write(b byte, line int) error {
	if c.frozen {
		panic("vm: write to a frozen chunk")
	}
	if len(c.ops) >= MaxCode {
		return &e.CompilationError{Line: line, Reason: "chunk exceeds 65535 instructions"}
	}
	c.ops = append(c.ops, b)
	c.lines = append(c.lines, line)
	return nil
}

// Freeze marks the chunk as complete; called once RETURN has been emitted
// by the compiler's endCompiler.
func (c *Chunk) Freeze() { c.frozen = true }

// AddConst registers const_ in the pool and returns its index. Registering
// a constant once MaxConsts are already held is a compile error
// (TooManyConstants), not a silent truncation.
func (c *Chunk) AddConst(const_ Value) (idx int, err error) {
	if len(c.consts) >= MaxConsts {
		return 0, &e.CompilationError{Kind: e.KindTooManyConstants, Reason: "too many constants in one chunk"}
	}
	idx = len(c.consts)
	c.consts = append(c.consts, const_)
	return idx, nil
}

func (c *Chunk) Len() int { return len(c.ops) }

func (c *Chunk) byteAt(i int) byte    { return c.ops[i] }
func (c *Chunk) lineAt(i int) int     { return c.lines[i] }
func (c *Chunk) constAt(i byte) Value { return c.consts[i] }

// PatchJump overwrites the 16-bit operand at offset (as written by a
// placeholder emission) with the absolute instruction index target.
func (c *Chunk) PatchJump(offset, target int) {
	c.ops[offset] = byte(target >> 8)
	c.ops[offset+1] = byte(target)
}

func (c *Chunk) DisassembleInst(offset int) (res string, newOffset int) {
	sprintf := func(format string, a ...any) { res += fmt.Sprintf(format, a...) }

	sprintf("%04d ", offset)
	if offset > 0 && c.lines[offset] == c.lines[offset-1] {
		sprintf("   | ")
	} else {
		sprintf("%4d ", c.lines[offset])
	}

	switch inst := OpCode(c.ops[offset]); inst {
	case OpConst, OpGetLocal, OpSetLocal, OpGetGlobal, OpDefGlobal, OpSetGlobal:
		const_ := c.ops[offset+1]
		sprintf("%-16s %4d", inst, const_)
		if inst == OpConst || inst == OpGetGlobal || inst == OpDefGlobal || inst == OpSetGlobal {
			sprintf(" '%s'", c.consts[const_])
		}
		return res, offset + 2
	case OpJump, OpJumpIfFalse:
		target := int(c.ops[offset+1])<<8 | int(c.ops[offset+2])
		sprintf("%-16s %4d -> %d", inst, offset, target)
		return res, offset + 3
	default:
		sprintf("%s", inst)
		return res, offset + 1
	}
}

func (c *Chunk) Disassemble(name string) (res string) {
	res = fmt.Sprintf("== %s ==\n", name)
	for i := 0; i < len(c.ops); {
		var delta string
		delta, i = c.DisassembleInst(i)
		res += delta + "\n"
	}
	return res
}

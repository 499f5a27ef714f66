package vm

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/loxvm/loxvm/debug"
	e "github.com/loxvm/loxvm/errors"
)

// VM is the fetch-dispatch loop: it owns nothing across Chunks by
// itself (Session is the thing that keeps a Chunk and a VM paired
// across REPL lines) beyond the live Operand Stack and Global Store,
// both of which persist across Load calls so successive REPL lines
// share variable state.
type VM struct {
	chunk *Chunk
	ip    int

	stack   *Stack
	globals *Globals
}

func NewVM() *VM {
	return &VM{stack: NewStack(), globals: NewGlobals()}
}

// Load points the VM at chunk, resetting the instruction pointer but
// leaving the Operand Stack and Global Store untouched.
func (vm *VM) Load(chunk *Chunk) {
	vm.chunk = chunk
	vm.ip = 0
}

func (vm *VM) readByte() (res byte) {
	res = vm.chunk.byteAt(vm.ip)
	vm.ip++
	return
}

func (vm *VM) readU16() int {
	hi, lo := vm.readByte(), vm.readByte()
	return int(hi)<<8 | int(lo)
}

func (vm *VM) curLine() int { return vm.chunk.lineAt(vm.ip - 1) }

// Run executes the loaded Chunk's opcode stream to completion (an
// OpReturn) or to the first runtime error. The Operand Stack is left
// as-is on error; neither Run nor Session clears it between REPL lines.
func (vm *VM) Run() error {
	if vm.chunk == nil {
		return &e.RuntimeError{Line: -1, Reason: "chunk uninitialized"}
	}

	for {
		if debug.DEBUG {
			logrus.Debugln(vm.stackTrace())
			inst, _ := vm.chunk.DisassembleInst(vm.ip)
			logrus.Debugln(inst)
		}

		switch inst := OpCode(vm.readByte()); inst {
		case OpReturn:
			return nil
		case OpConst:
			if err := vm.push(vm.chunk.constAt(vm.readByte())); err != nil {
				return err
			}
		case OpNil:
			if err := vm.push(VNil{}); err != nil {
				return err
			}
		case OpTrue:
			if err := vm.push(VBool(true)); err != nil {
				return err
			}
		case OpFalse:
			if err := vm.push(VBool(false)); err != nil {
				return err
			}
		case OpPop:
			if _, err := vm.pop(); err != nil {
				return err
			}

		case OpGetLocal:
			slot := int(vm.readByte())
			val, err := vm.stack.PeekAt(slot)
			if err != nil {
				return err
			}
			if err := vm.push(val); err != nil {
				return err
			}
		case OpSetLocal:
			slot := int(vm.readByte())
			val, err := vm.stack.Peek()
			if err != nil {
				return err
			}
			if err := vm.stack.SetAt(slot, val); err != nil {
				return err
			}

		case OpGetGlobal:
			name := string(vm.chunk.constAt(vm.readByte()).(VString))
			val, ok := vm.globals.Get(name)
			if !ok {
				return &e.RuntimeError{Kind: e.KindUnknownVariable, Line: vm.curLine(), Name: name}
			}
			if err := vm.push(val); err != nil {
				return err
			}
		case OpDefGlobal:
			name := string(vm.chunk.constAt(vm.readByte()).(VString))
			val, err := vm.pop()
			if err != nil {
				return err
			}
			vm.globals.Put(name, val)
		case OpSetGlobal:
			name := string(vm.chunk.constAt(vm.readByte()).(VString))
			val, err := vm.stack.Peek()
			if err != nil {
				return err
			}
			if !vm.globals.Contains(name) {
				return &e.RuntimeError{Kind: e.KindUnknownVariable, Line: vm.curLine(), Name: name}
			}
			vm.globals.Put(name, val)

		case OpEqual:
			b, a, err := vm.popPair()
			if err != nil {
				return err
			}
			res, ok := VEq(a, b)
			if !ok {
				return vm.illegalBinary("==", a, b)
			}
			if err := vm.push(res); err != nil {
				return err
			}
		case OpGreater:
			b, a, err := vm.popPair()
			if err != nil {
				return err
			}
			res, ok := VGreater(a, b)
			if !ok {
				return vm.illegalBinary(">", a, b)
			}
			if err := vm.push(res); err != nil {
				return err
			}
		case OpLess:
			b, a, err := vm.popPair()
			if err != nil {
				return err
			}
			res, ok := VGreater(b, a)
			if !ok {
				return vm.illegalBinary("<", a, b)
			}
			if err := vm.push(res); err != nil {
				return err
			}

		case OpAnd:
			b, a, err := vm.popPair()
			if err != nil {
				return err
			}
			if err := vm.push(VBool(VTruthy(a) && VTruthy(b))); err != nil {
				return err
			}
		case OpOr:
			b, a, err := vm.popPair()
			if err != nil {
				return err
			}
			if err := vm.push(VBool(VTruthy(a) || VTruthy(b))); err != nil {
				return err
			}

		case OpNot:
			a, err := vm.pop()
			if err != nil {
				return err
			}
			res, ok := VNot(a)
			if !ok {
				return vm.illegalUnary("!", a)
			}
			if err := vm.push(res); err != nil {
				return err
			}
		case OpNeg:
			a, err := vm.pop()
			if err != nil {
				return err
			}
			res, ok := VNeg(a)
			if !ok {
				return vm.illegalUnary("-", a)
			}
			if err := vm.push(res); err != nil {
				return err
			}

		case OpAdd, OpSub, OpMul, OpDiv:
			b, a, err := vm.popPair()
			if err != nil {
				return err
			}
			var res Value
			var ok bool
			var sym string
			switch inst {
			case OpAdd:
				sym = "+"
				res, ok = VAdd(a, b)
			case OpSub:
				sym = "-"
				res, ok = VSub(a, b)
			case OpMul:
				sym = "*"
				res, ok = VMul(a, b)
			case OpDiv:
				sym = "/"
				res, ok = VDiv(a, b)
			}
			if !ok {
				return vm.illegalBinary(sym, a, b)
			}
			if err := vm.push(res); err != nil {
				return err
			}

		case OpPrint:
			val, err := vm.pop()
			if err != nil {
				return err
			}
			fmt.Println(val.String())

		case OpJump:
			vm.ip = vm.readU16()
		case OpJumpIfFalse:
			target := vm.readU16()
			cond, err := vm.stack.Peek()
			if err != nil {
				return err
			}
			if !VTruthy(cond) {
				vm.ip = target
			}

		default:
			return &e.RuntimeError{Line: vm.curLine(), Reason: fmt.Sprintf("unknown instruction '%d'", inst)}
		}
	}
}

func (vm *VM) push(v Value) error  { return vm.stack.Push(v) }
func (vm *VM) pop() (Value, error) { return vm.stack.Pop() }

// popPair pops the top two values as (b, a) in source order: b is the
// right-hand operand (popped first, since it was pushed last), a is the
// left-hand one.
func (vm *VM) popPair() (b, a Value, err error) {
	if b, err = vm.pop(); err != nil {
		return
	}
	a, err = vm.pop()
	return
}

func (vm *VM) illegalUnary(op string, a Value) error {
	return &e.RuntimeError{Kind: e.KindIllegalUnaryOp, Line: vm.curLine(), Op: op, Operand: a.String()}
}

func (vm *VM) illegalBinary(op string, a, b Value) error {
	return &e.RuntimeError{Kind: e.KindIllegalBinaryOp, Line: vm.curLine(), Op: op, Left: a.String(), Right: b.String()}
}

// DebugStackTrace exposes stackTrace for callers outside the package
// (the REPL's `:q` quit summary).
func (vm *VM) DebugStackTrace() string { return vm.stackTrace() }

func (vm *VM) stackTrace() string {
	res := "          "
	for i := 0; i < vm.stack.Len(); i++ {
		v, _ := vm.stack.PeekAt(i)
		res += fmt.Sprintf("[ %s ]", v)
	}
	return res
}

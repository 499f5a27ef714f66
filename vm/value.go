package vm

import "fmt"

// Value is the tagged union the VM operates on. Every concrete variant is
// clonable by plain Go assignment; VString owns its backing bytes.
type Value interface {
	isValue()
	String() string
}

func NewNil() Value { return VNil{} }

type VNil struct{}

func (VNil) isValue()       {}
func (VNil) String() string { return "nil" }

type VBool bool

func (VBool) isValue()         {}
func (v VBool) String() string { return fmt.Sprintf("%t", bool(v)) }

// VInt holds a 32-bit signed integer. No surface-syntax literal produces an
// VInt directly (the lexer's Number production always yields VFloat, see
// Compiler.number); it exists so arithmetic and comparisons have a second
// numeric tag, per the Value data model.
type VInt int32

func (VInt) isValue()         {}
func (v VInt) String() string { return fmt.Sprintf("%d", int32(v)) }

type VFloat float32

func (VFloat) isValue()         {}
func (v VFloat) String() string { return fmt.Sprintf("%g", float32(v)) }

// VString owns a copy of its text; it never aliases the source buffer.
type VString string

func (VString) isValue()         {}
func (v VString) String() string { return string(v) }

func NewVString(s string) Value { return VString(s) }

// VTruthy classifies a Value for use in conditionals: VBool(false) and
// VNil are falsy, everything else (including zero numbers and the empty
// string) is truthy.
func VTruthy(v Value) bool {
	switch v := v.(type) {
	case VBool:
		return bool(v)
	case VNil:
		return false
	default:
		return true
	}
}

// VNeg implements unary `-`. Nil negates to Nil; Int/Float negate
// arithmetically; anything else is not ok and the caller raises
// IllegalUnaryOp.
func VNeg(v Value) (Value, bool) {
	switch v := v.(type) {
	case VInt:
		return -v, true
	case VFloat:
		return -v, true
	case VNil:
		return VNil{}, true
	}
	return nil, false
}

// VNot implements unary `!`.
func VNot(v Value) (Value, bool) {
	switch v := v.(type) {
	case VBool:
		return VBool(!v), true
	case VNil:
		return VBool(true), true
	}
	return nil, false
}

// VAdd concatenates strings, adds matching numerics, and additionally
// allows a String paired with a Float on either side, concatenating the
// float's textual form. Every other pairing is not ok.
func VAdd(a, b Value) (Value, bool) {
	switch a := a.(type) {
	case VInt:
		if b, ok := b.(VInt); ok {
			return a + b, true
		}
	case VFloat:
		switch b := b.(type) {
		case VFloat:
			return a + b, true
		case VString:
			return VString(a.String() + string(b)), true
		}
	case VString:
		switch b := b.(type) {
		case VString:
			return VString(string(a) + string(b)), true
		case VFloat:
			return VString(string(a) + b.String()), true
		}
	}
	return nil, false
}

func VSub(a, b Value) (Value, bool) {
	switch a := a.(type) {
	case VInt:
		if b, ok := b.(VInt); ok {
			return a - b, true
		}
	case VFloat:
		if b, ok := b.(VFloat); ok {
			return a - b, true
		}
	}
	return nil, false
}

func VMul(a, b Value) (Value, bool) {
	switch a := a.(type) {
	case VInt:
		if b, ok := b.(VInt); ok {
			return a * b, true
		}
	case VFloat:
		if b, ok := b.(VFloat); ok {
			return a * b, true
		}
	}
	return nil, false
}

// VDiv follows platform-default numeric semantics: Int division truncates
// toward zero and a zero Int divisor panics, per Go's native `/` on signed
// ints; Float division by zero produces +/-Inf or NaN per IEEE 754, never
// an error.
func VDiv(a, b Value) (Value, bool) {
	switch a := a.(type) {
	case VInt:
		if b, ok := b.(VInt); ok {
			return a / b, true
		}
	case VFloat:
		if b, ok := b.(VFloat); ok {
			return a / b, true
		}
	}
	return nil, false
}

// VEq is defined only within a matching variant; a tag mismatch is not ok
// and the VM surfaces it as IllegalBinaryOp rather than returning false.
func VEq(a, b Value) (VBool, bool) {
	switch a := a.(type) {
	case VNil:
		_, ok := b.(VNil)
		return VBool(ok), ok
	case VBool:
		b, ok := b.(VBool)
		return VBool(a == b), ok
	case VInt:
		b, ok := b.(VInt)
		return VBool(a == b), ok
	case VFloat:
		b, ok := b.(VFloat)
		return VBool(a == b), ok
	case VString:
		b, ok := b.(VString)
		return VBool(a == b), ok
	}
	return false, false
}

// VGreater is defined on matching numerics and on VBool, where true is
// considered greater than false.
func VGreater(a, b Value) (VBool, bool) {
	switch a := a.(type) {
	case VInt:
		if b, ok := b.(VInt); ok {
			return VBool(a > b), true
		}
	case VFloat:
		if b, ok := b.(VFloat); ok {
			return VBool(a > b), true
		}
	case VBool:
		if b, ok := b.(VBool); ok {
			return VBool(a && !b), true
		}
	}
	return false, false
}

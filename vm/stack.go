package vm

import e "github.com/loxvm/loxvm/errors"

// MaxStack is the fixed capacity of the operand stack, in Values.
const MaxStack = 256

// Stack is a fixed-capacity LIFO of Values, indexable from the bottom for
// local-variable slots. It never grows past MaxStack.
type Stack struct {
	slots [MaxStack]Value
	top   int
}

func NewStack() *Stack { return &Stack{} }

func (s *Stack) Push(v Value) error {
	if s.top >= MaxStack {
		return &e.RuntimeError{Kind: e.KindStackOverflow, Reason: "stack overflow"}
	}
	s.slots[s.top] = v
	s.top++
	return nil
}

func (s *Stack) Pop() (Value, error) {
	if s.top == 0 {
		return nil, &e.RuntimeError{Reason: "stack underflow"}
	}
	s.top--
	v := s.slots[s.top]
	s.slots[s.top] = nil
	return v, nil
}

// Peek returns the top of the stack without popping it.
func (s *Stack) Peek() (Value, error) {
	if s.top == 0 {
		return nil, &e.RuntimeError{Reason: "stack underflow"}
	}
	return s.slots[s.top-1], nil
}

// PeekAt returns the Value at the given absolute slot from the bottom, as
// used by GET_LOCAL/SET_LOCAL.
func (s *Stack) PeekAt(slot int) (Value, error) {
	if slot < 0 || slot >= s.top {
		return nil, &e.RuntimeError{Reason: "stack underflow"}
	}
	return s.slots[slot], nil
}

// SetAt overwrites the Value at the given absolute slot, as used by
// SET_LOCAL.
func (s *Stack) SetAt(slot int, v Value) error {
	if slot < 0 || slot >= s.top {
		return &e.RuntimeError{Reason: "stack underflow"}
	}
	s.slots[slot] = v
	return nil
}

func (s *Stack) Len() int { return s.top }

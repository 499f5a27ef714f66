package vm

import (
	"fmt"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/josharian/intern"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/loxvm/loxvm/debug"
	e "github.com/loxvm/loxvm/errors"
)

// reservedTypes lists the keywords whose tokens are reachable (the
// closed token set is unchanged) but that this implementation never
// parses or executes: function/class declarations, return, and the
// inheritance keywords.
var reservedTypes = []TokenType{TFun, TClass, TReturn, TSuper, TThis}

// syncTypes are the statement-starting keywords declaration() resumes
// at after a panic-mode error.
var syncTypes = []TokenType{TClass, TFun, TVar, TFor, TIf, TWhile, TPrint, TReturn}

// Compiler is the single-pass Pratt parser + codegen pair: it drives a
// Scanner, consults a ScopeTracker, and emits opcodes/constants into a
// Chunk, back-patching jump targets as control-flow statements close.
// It keeps exactly two tokens of lookahead (prev, cur).
type Compiler struct {
	*Scanner
	prev, cur Token

	chunk  *Chunk
	scopes *ScopeTracker

	errors    *multierror.Error
	panicMode bool
}

func NewCompiler() *Compiler {
	return &Compiler{chunk: NewChunk(), scopes: NewScopeTracker()}
}

// Compile drives the Scanner to EoF, parsing declaration() repeatedly,
// and returns the finished Chunk. A non-ASCII source is rejected up front
// with a single *errors.CompilationError and a nil Chunk; any other
// non-nil error is a *multierror.Error wrapping one or more
// *errors.CompilationError values, collected across error-recovery syncs
// rather than aborting on the first one.
func (c *Compiler) Compile(src string) (*Chunk, error) {
	if i := CheckASCII(src); i >= 0 {
		return nil, &e.CompilationError{Kind: e.KindNonASCII, Reason: fmt.Sprintf("byte offset %d", i)}
	}

	c.Scanner = NewScanner(src)
	c.advance()
	for !c.match(TEOF) {
		c.declaration()
	}
	c.endCompiler()
	return c.chunk, c.errors.ErrorOrNil()
}

/* Parsing helpers */

func (c *Compiler) check(ty TokenType) bool     { return c.cur.Type == ty }
func (c *Compiler) checkPrev(ty TokenType) bool { return c.prev.Type == ty }

func (c *Compiler) advance() {
	c.prev = c.cur
	for {
		if c.cur = c.ScanToken(); !c.check(TErr) {
			break
		}
		c.errorAtCurrent(c.TokenText(c.cur))
	}
}

func (c *Compiler) match(ty TokenType) bool {
	if !c.check(ty) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(ty TokenType, errMsg string) bool {
	if !c.check(ty) {
		c.errorAtCurrentExpected(ty, errMsg)
		return false
	}
	c.advance()
	return true
}

/* Emission helpers */

func (c *Compiler) emitBytes(bs ...byte) {
	for _, b := range bs {
		if err := c.chunk.Write(b, c.prev.Line); err != nil {
			c.errors = multierror.Append(c.errors, err)
		}
	}
}

func (c *Compiler) makeConst(val Value) byte {
	idx, err := c.chunk.AddConst(val)
	if err != nil {
		c.errors = multierror.Append(c.errors, err)
		return 0
	}
	return byte(idx)
}

func (c *Compiler) emitConst(val Value) { c.emitBytes(byte(OpConst), c.makeConst(val)) }

// emitJump writes the opcode plus a 16-bit placeholder operand and
// returns the offset of that operand for a later patchJump call, once
// the target (the instruction index to resume at) is known.
func (c *Compiler) emitJump(op OpCode) int {
	c.emitBytes(byte(op), 0xff, 0xff)
	return c.chunk.Len() - 2
}

// emitJumpTo writes an unconditional jump whose target is already known
// (a backward jump closing a loop), with no placeholder/patch step.
func (c *Compiler) emitJumpTo(op OpCode, target int) {
	c.emitBytes(byte(op), byte(target>>8), byte(target))
}

// patchJump backfills the placeholder at offset with the chunk's current
// length — the absolute instruction index execution should resume at.
func (c *Compiler) patchJump(offset int) { c.chunk.PatchJump(offset, c.chunk.Len()) }

func (c *Compiler) endCompiler() {
	c.emitBytes(byte(OpReturn))
	c.chunk.Freeze()
	if debug.DEBUG {
		logrus.Debugln(c.chunk.Disassemble("endCompiler"))
	}
}

/* Declarations & statements */

func (c *Compiler) declaration() {
	switch {
	case c.match(TVar):
		c.varDecl()
	default:
		c.statement()
	}
	if c.panicMode {
		c.sync()
	}
}

func (c *Compiler) varDecl() {
	name := c.parseVarName("expect variable name")

	if c.match(TEqual) {
		c.expression()
	} else {
		c.emitBytes(byte(OpNil))
	}
	c.consume(TSemi, "expect ';' after variable declaration")
	c.defineVar(name)
}

// parseVarName consumes an identifier, rejecting a redeclaration already
// present in the current local scope, and returns its text. It
// deliberately does NOT register the name with the ScopeTracker yet:
// that happens in defineVar, after the initializer has been compiled, so
// that `var a = a;` cannot resolve its own right-hand side to the new
// local's not-yet-initialized slot.
func (c *Compiler) parseVarName(errMsg string) string {
	if !c.consume(TIdent, errMsg) {
		return ""
	}
	name := c.TokenText(c.prev)

	if c.scopes.LocalScope() && c.scopes.ExistsInCurrentScope(name) {
		c.errorAt(c.prev, "already a variable with this name in this scope")
		return ""
	}
	return name
}

// defineVar finishes a variable declaration: globals get a DEF_GLOBAL
// that pops the initializer and binds the name; locals are registered
// with the ScopeTracker only now, once the initializer's value is
// already sitting on the stack at the slot AddLocal returns.
func (c *Compiler) defineVar(name string) {
	if c.scopes.LocalScope() {
		if _, err := c.scopes.AddLocal(name); err != nil {
			c.errors = multierror.Append(c.errors, err)
		}
		return
	}
	c.emitBytes(byte(OpDefGlobal), c.identConst(name))
}

func (c *Compiler) identConst(name string) byte {
	return c.makeConst(NewVString(intern.String(name)))
}

func (c *Compiler) statement() {
	switch {
	case c.match(TPrint):
		c.printStmt()
	case c.match(TIf):
		c.ifStmt()
	case c.match(TWhile):
		c.whileStmt()
	case c.match(TFor):
		c.forStmt()
	case c.match(TLBrace):
		c.scopes.BeginScope()
		c.block()
		c.endScope()
	case slices.Contains(reservedTypes, c.cur.Type):
		c.reservedWordError()
	default:
		c.exprStmt()
	}
}

// reservedWordError rejects `fun`, `class`, `return`, `super`, `this`:
// they lex as their own token types (the closed token set is unchanged)
// but this implementation covers neither parsing nor execution of them.
func (c *Compiler) reservedWordError() {
	c.advance()
	c.errorAt(c.prev, fmt.Sprintf("'%s' is not supported", c.TokenText(c.prev)))
}

func (c *Compiler) exprStmt() {
	c.expression()
	c.consume(TSemi, "expect ';' after value")
	c.emitBytes(byte(OpPop))
}

func (c *Compiler) printStmt() {
	c.expression()
	c.consume(TSemi, "expect ';' after value")
	c.emitBytes(byte(OpPrint))
}

func (c *Compiler) block() {
	for !c.check(TRBrace) && !c.check(TEOF) {
		c.declaration()
	}
	c.consume(TRBrace, "expect '}' after block")
}

// endScope decrements the ScopeTracker's depth, then pops every local
// that belonged to the scope just closed — one POP per ShouldPopLocal
// call that reports true.
func (c *Compiler) endScope() {
	c.scopes.EndScope()
	for c.scopes.ShouldPopLocal() {
		c.emitBytes(byte(OpPop))
	}
}

func (c *Compiler) ifStmt() {
	c.consume(TLParen, "expect '(' after 'if'")
	c.expression()
	c.consume(TRParen, "expect ')' after condition")

	thenJump := c.emitJump(OpJumpIfFalse)
	c.emitBytes(byte(OpPop)) // Discard the condition on the then-branch path.
	c.statement()

	elseJump := c.emitJump(OpJump)
	c.patchJump(thenJump)
	c.emitBytes(byte(OpPop)) // Discard the condition on the else-branch path.

	if c.match(TElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStmt() {
	loopStart := c.chunk.Len()
	c.consume(TLParen, "expect '(' after 'while'")
	c.expression()
	c.consume(TRParen, "expect ')' after condition")

	exitJump := c.emitJump(OpJumpIfFalse)
	c.emitBytes(byte(OpPop))
	c.statement()
	c.emitJumpTo(OpJump, loopStart)

	c.patchJump(exitJump)
	c.emitBytes(byte(OpPop))
}

func (c *Compiler) forStmt() {
	c.scopes.BeginScope()
	defer c.endScope()

	c.consume(TLParen, "expect '(' after 'for'")
	switch {
	case c.match(TSemi):
		// No initializer.
	case c.match(TVar):
		c.varDecl()
	default:
		c.exprStmt()
	}

	loopStart := c.chunk.Len()
	exitJump := -1
	if !c.match(TSemi) {
		c.expression()
		c.consume(TSemi, "expect ';' after loop condition")
		exitJump = c.emitJump(OpJumpIfFalse)
		c.emitBytes(byte(OpPop))
	}

	if !c.check(TRParen) {
		bodyJump := c.emitJump(OpJump)
		incStart := c.chunk.Len()
		c.expression()
		c.emitBytes(byte(OpPop))
		c.emitJumpTo(OpJump, loopStart)
		loopStart = incStart
		c.patchJump(bodyJump)
	}
	c.consume(TRParen, "expect ')' after for clauses")

	c.statement()
	c.emitJumpTo(OpJump, loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitBytes(byte(OpPop))
	}
}

/* Expressions */

func (c *Compiler) expression() { c.parsePrec(PrecAssign) }

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix, infix parseFn
	prec          Prec
}

var rules []parseRule

func init() {
	rules = []parseRule{
		TLParen:       {(*Compiler).grouping, nil, PrecNone},
		TMinus:        {(*Compiler).unary, (*Compiler).binary, PrecTerm},
		TPlus:         {nil, (*Compiler).binary, PrecTerm},
		TSlash:        {nil, (*Compiler).binary, PrecFactor},
		TStar:         {nil, (*Compiler).binary, PrecFactor},
		TBang:         {(*Compiler).unary, nil, PrecNone},
		TBangEqual:    {nil, (*Compiler).binary, PrecEqual},
		TEqualEqual:   {nil, (*Compiler).binary, PrecEqual},
		TGreater:      {nil, (*Compiler).binary, PrecComp},
		TGreaterEqual: {nil, (*Compiler).binary, PrecComp},
		TLess:         {nil, (*Compiler).binary, PrecComp},
		TLessEqual:    {nil, (*Compiler).binary, PrecComp},
		TIdent:        {(*Compiler).variable, nil, PrecNone},
		TStr:          {(*Compiler).str, nil, PrecNone},
		TNum:          {(*Compiler).number, nil, PrecNone},
		TAnd:          {nil, (*Compiler).and, PrecAnd},
		TOr:           {nil, (*Compiler).or, PrecOr},
		TFalse:        {(*Compiler).literal, nil, PrecNone},
		TNil:          {(*Compiler).literal, nil, PrecNone},
		TTrue:         {(*Compiler).literal, nil, PrecNone},
		TEOF:          {},
	}
}

func (c *Compiler) parsePrec(prec Prec) {
	c.advance()

	prefix := rules[c.prev.Type].prefix
	if prefix == nil {
		c.errorAt(c.prev, "expect expression")
		return
	}
	canAssign := prec <= PrecAssign
	prefix(c, canAssign)

	for rules[c.cur.Type].prec > prec {
		c.advance()
		infix := rules[c.prev.Type].infix
		if infix == nil {
			panic(e.UnreachableError)
		}
		infix(c, canAssign)
	}

	if canAssign && c.match(TEqual) {
		c.errorAt(c.prev, "invalid assignment target")
	}
}

func (c *Compiler) number(_ bool) {
	text := c.TokenText(c.prev)
	val, err := strconv.ParseFloat(text, 32)
	if err != nil {
		c.errorAt(c.prev, fmt.Sprintf("invalid number literal '%s'", text))
		return
	}
	c.emitConst(VFloat(val))
}

func (c *Compiler) str(_ bool) {
	c.emitConst(NewVString(c.TokenText(c.prev)))
}

func (c *Compiler) literal(_ bool) {
	switch c.prev.Type {
	case TFalse:
		c.emitBytes(byte(OpFalse))
	case TNil:
		c.emitBytes(byte(OpNil))
	case TTrue:
		c.emitBytes(byte(OpTrue))
	default:
		panic(e.UnreachableError)
	}
}

func (c *Compiler) grouping(_ bool) {
	c.expression()
	c.consume(TRParen, "expect ')' after expression")
}

func (c *Compiler) unary(_ bool) {
	op := c.prev.Type
	c.parsePrec(PrecUnary)
	switch op {
	case TBang:
		c.emitBytes(byte(OpNot))
	case TMinus:
		c.emitBytes(byte(OpNeg))
	default:
		panic(e.UnreachableError)
	}
}

func (c *Compiler) binary(_ bool) {
	op := c.prev.Type
	rule := rules[op]
	c.parsePrec(rule.prec)

	switch op {
	case TBangEqual:
		c.emitBytes(byte(OpEqual), byte(OpNot))
	case TEqualEqual:
		c.emitBytes(byte(OpEqual))
	case TGreater:
		c.emitBytes(byte(OpGreater))
	case TGreaterEqual:
		c.emitBytes(byte(OpLess), byte(OpNot))
	case TLess:
		c.emitBytes(byte(OpLess))
	case TLessEqual:
		c.emitBytes(byte(OpGreater), byte(OpNot))
	case TPlus:
		c.emitBytes(byte(OpAdd))
	case TMinus:
		c.emitBytes(byte(OpSub))
	case TStar:
		c.emitBytes(byte(OpMul))
	case TSlash:
		c.emitBytes(byte(OpDiv))
	default:
		panic(e.UnreachableError)
	}
}

// and short-circuits: OpJumpIfFalse peeks the left operand without
// popping it, so a falsy left skips straight past the right operand and
// the OpAnd combine, leaving the left value as the result. A truthy left
// falls through, evaluates the right operand, and OpAnd folds the two
// (which, since the left is known truthy here, yields the right
// operand's truthiness as a Bool).
func (c *Compiler) and(_ bool) {
	endJump := c.emitJump(OpJumpIfFalse)
	c.parsePrec(PrecAnd)
	c.emitBytes(byte(OpAnd))
	c.patchJump(endJump)
}

// or mirrors and: a truthy left falls through OpJumpIfFalse to the
// unconditional jump, which skips the right operand and OpOr, leaving
// the left value as the result; a falsy left jumps to the right operand,
// and OpOr combines the two.
func (c *Compiler) or(_ bool) {
	elseJump := c.emitJump(OpJumpIfFalse)
	endJump := c.emitJump(OpJump)
	c.patchJump(elseJump)
	c.parsePrec(PrecOr)
	c.emitBytes(byte(OpOr))
	c.patchJump(endJump)
}

func (c *Compiler) variable(canAssign bool) { c.namedVar(c.prev, canAssign) }

func (c *Compiler) namedVar(name Token, canAssign bool) {
	text := c.TokenText(name)
	slot := c.scopes.FindLocal(text)

	var arg byte
	var getOp, setOp OpCode
	if slot >= 0 {
		arg, getOp, setOp = byte(slot), OpGetLocal, OpSetLocal
	} else {
		arg, getOp, setOp = c.identConst(text), OpGetGlobal, OpSetGlobal
	}

	if canAssign && c.match(TEqual) {
		c.expression()
		c.emitBytes(byte(setOp), arg)
	} else {
		c.emitBytes(byte(getOp), arg)
	}
}

/* Error handling */

func (c *Compiler) sync() {
	c.panicMode = false
	for !c.check(TEOF) && !c.checkPrev(TSemi) {
		if slices.Contains(syncTypes, c.cur.Type) {
			return
		}
		c.advance()
	}
}

func (c *Compiler) errorAt(tok Token, reason string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	err := &e.CompilationError{Line: tok.Line, Reason: reason}
	if debug.DEBUG {
		logrus.Debugln(err)
	}
	c.errors = multierror.Append(c.errors, err)
}

func (c *Compiler) errorAtCurrent(reason string) { c.errorAt(c.cur, reason) }

func (c *Compiler) errorAtCurrentExpected(expected TokenType, reason string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	err := &e.CompilationError{
		Kind:     e.KindUnexpectedToken,
		Line:     c.cur.Line,
		Reason:   reason,
		Expected: fmt.Sprint(expected),
		Found:    fmt.Sprint(c.cur.Type),
	}
	c.errors = multierror.Append(c.errors, err)
}

package vm_test

import (
	"io"
	"os"
	"testing"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/stretchr/testify/assert"

	"github.com/loxvm/loxvm/session"
)

// TestPair is one program and the text its `print` statements are
// expected to produce, in order, newline-joined.
type TestPair struct{ input, output string }

// captureStdout redirects os.Stdout for the duration of f, so PRINT's
// fmt.Println calls can be asserted on without threading a Writer
// through the VM's opcode dispatch.
func captureStdout(t *testing.T, f func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	assert.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w

	f()

	w.Close()
	os.Stdout = orig
	out, err := io.ReadAll(r)
	assert.NoError(t, err)
	return string(out)
}

// assertEval runs every pair against one shared Session, so later pairs
// can observe globals set by earlier ones, the way a REPL session would.
func assertEval(t *testing.T, errSubstr string, pairs ...TestPair) {
	t.Helper()
	sess := session.New(false)

	for _, pair := range pairs {
		var runErr error
		out := captureStdout(t, func() {
			id, err := sess.Compile(pair.input)
			if err != nil {
				runErr = err
				return
			}
			runErr = sess.Exec(id)
		})

		if errSubstr != "" {
			if runErr != nil {
				assert.ErrorContains(t, runErr, errSubstr)
				return
			}
			continue
		}
		assert.NoError(t, runErr)
		assert.Equal(t, pair.output, out)
	}
	assert.Empty(t, errSubstr, "a successful test must have an empty errSubstr")
}

func TestCalculator(t *testing.T) {
	assertEval(t, "", []TestPair{
		{"print 2 + 2;", "4\n"},
		{"print 1.5 + 0.25;", "1.75\n"},
		{"print -6 * (-4 + -3) == 6 * 4 + 2 * ((((9))));", "true\n"},
		{
			heredoc.Doc(`
				print 2 * (3 + 4) - 8 / 2;
			`),
			"10\n",
		},
	}...)
}

func TestVarsAndBlocks(t *testing.T) {
	assertEval(t, "", []TestPair{
		{"var foo = 2;", ""},
		{"print foo;", "2\n"},
		{"print foo + 3 == 1 + foo * foo;", "true\n"},
		{"var bar;", ""},
		{"print bar;", "nil\n"},
		{"bar = foo = 5;", ""},
		{"print foo;", "5\n"},
		{"print bar;", "5\n"},
		{"{ foo = foo + 1; var bar; var foo1 = foo; foo1 = foo1 + 1; print foo1; }", "7\n"},
		{"print foo;", "6\n"},
	}...)
}

func TestRedeclarationInSameScope(t *testing.T) {
	assertEval(t, "already a variable with this name in this scope",
		TestPair{"{ var a = 1; var a = 2; }", ""})
}

func TestShadowingAcrossScopes(t *testing.T) {
	assertEval(t, "", []TestPair{
		{"var a = 1;", ""},
		{"{ var a = a + 1; print a; }", "2\n"},
		{"print a;", "1\n"},
	}...)
}

func TestIfElseStackInvariant(t *testing.T) {
	// Both branches of an if/else must pop the condition, so a chain of
	// if/else statements never leaves stray values behind, regardless of
	// which branch runs.
	assertEval(t, "", []TestPair{
		{"if (true) print 1; else print 2;", "1\n"},
		{"if (false) print 1; else print 2;", "2\n"},
		{"if (false) print 1;", ""},
		{"print 42;", "42\n"},
		{"{ var x = 42; print x; }", "42\n"},
	}...)
}

func TestAndOrCombine(t *testing.T) {
	assertEval(t, "", []TestPair{
		{"print true and false;", "false\n"},
		{"print true and true;", "true\n"},
		{"print false or true;", "true\n"},
		{"print false or false;", "false\n"},
	}...)
}

// TestShortCircuitSkipsRHS proves the undeclared-variable RHS is never
// evaluated: referencing it would abort the statement with an
// unknown-variable runtime error, which assertEval's NoError check on
// that pair would report.
func TestShortCircuitSkipsRHS(t *testing.T) {
	assertEval(t, "", []TestPair{
		{"print false and undeclared_name;", "false\n"},
		{"print true or undeclared_name;", "true\n"},
		{"print 1 + 1;", "2\n"},
	}...)
}

func TestWhileLoop(t *testing.T) {
	assertEval(t, "", TestPair{
		heredoc.Doc(`
			var i = 0;
			var sum = 0;
			while (i < 5) {
				sum = sum + i;
				i = i + 1;
			}
			print sum;
		`),
		"10\n",
	})
}

func TestForLoop(t *testing.T) {
	assertEval(t, "", TestPair{
		heredoc.Doc(`
			var sum = 0;
			for (var i = 0; i < 5; i = i + 1) {
				sum = sum + i;
			}
			print sum;
		`),
		"10\n",
	})
}

func TestForLoopBareClauses(t *testing.T) {
	assertEval(t, "", TestPair{
		heredoc.Doc(`
			var i = 0;
			for (;i < 3;) {
				print i;
				i = i + 1;
			}
		`),
		"0\n1\n2\n",
	})
}

func TestStringConcat(t *testing.T) {
	assertEval(t, "", []TestPair{
		{`print "foo" + "bar";`, "foobar\n"},
		{`print "count: " + 3;`, "count: 3\n"},
	}...)
}

func TestCrossTagEqualityIsRuntimeError(t *testing.T) {
	assertEval(t, "illegal binary", TestPair{`print 1 == "1";`, ""})
}

func TestUnknownGlobalIsRuntimeError(t *testing.T) {
	assertEval(t, "unknown variable", TestPair{"print undefined_name;", ""})
}

func TestAssignUndeclaredGlobalIsRuntimeError(t *testing.T) {
	assertEval(t, "unknown variable", TestPair{"undefined_name = 1;", ""})
}

func TestMultiDotNumberIsSyntaxError(t *testing.T) {
	assertEval(t, "invalid number literal", TestPair{"print 1.2.3;", ""})
}

func TestNonASCIISourceRejected(t *testing.T) {
	assertEval(t, "must be pure ASCII", TestPair{"print \"caf\xc3\xa9\";", ""})
}

func TestReservedKeywordsRejected(t *testing.T) {
	for _, src := range []string{"fun f() {}", "class C {}", "return 1;", "this;", "super.x;"} {
		assertEval(t, "is not supported", TestPair{src, ""})
	}
}

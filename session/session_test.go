package session_test

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loxvm/loxvm/session"
)

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

// TestReplLikeReuse mirrors how cmd's REPL loop drives a Session: one
// Compile/Exec pair per line, sharing globals across lines.
func TestReplLikeReuse(t *testing.T) {
	sess := session.New(false)

	id, err := sess.Compile("var count = 1;")
	assert.NoError(t, err)
	assert.NoError(t, sess.Exec(id))

	id, err = sess.Compile("count = count + 1;")
	assert.NoError(t, err)
	assert.NoError(t, sess.Exec(id))

	id, err = sess.Compile("print count;")
	assert.NoError(t, err)
	out := captureStdout(t, func() { assert.NoError(t, sess.Exec(id)) })
	assert.Equal(t, "2\n", out)
}

// TestExecRestoresChunkAfterRuntimeError checks that a failed Exec still
// leaves its Chunk addressable: re-executing the same slot after a
// runtime error should fail the same way rather than with a "chunk
// uninitialized" error from a nil Chunk, matching rs-lox's
// get_chunk/put_chunk pairing in exec.
func TestExecRestoresChunkAfterRuntimeError(t *testing.T) {
	sess := session.New(false)

	id, err := sess.Compile("print undeclared_name;")
	assert.NoError(t, err)

	err1 := sess.Exec(id)
	assert.ErrorContains(t, err1, "unknown variable")

	err2 := sess.Exec(id)
	assert.ErrorContains(t, err2, "unknown variable")
}

// TestGlobalsSurviveAFailedLine checks a REPL can keep using earlier
// globals after a later line fails at runtime.
func TestGlobalsSurviveAFailedLine(t *testing.T) {
	sess := session.New(false)

	id, err := sess.Compile("var x = 10;")
	assert.NoError(t, err)
	assert.NoError(t, sess.Exec(id))

	id, err = sess.Compile("print y;")
	assert.NoError(t, err)
	assert.Error(t, sess.Exec(id))

	id, err = sess.Compile("print x;")
	assert.NoError(t, err)
	out := captureStdout(t, func() { assert.NoError(t, sess.Exec(id)) })
	assert.Equal(t, "10\n", out)
}

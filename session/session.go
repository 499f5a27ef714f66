// Package session wires a VM and a slotted collection of Chunks together,
// mirroring rs-lox's RuntimeContext: each Compile call appends a new
// Chunk and hands back its slot; each Exec call loads that slot's Chunk
// into the VM, runs it, and restores the slot before returning, even on
// a runtime error, so a REPL front-end can keep reusing the same VM
// (and thus the same globals and live locals) across lines.
package session

import (
	"github.com/sirupsen/logrus"

	"github.com/loxvm/loxvm/vm"
)

// ChunkID addresses a compiled Chunk owned by a Session.
type ChunkID int

// Session owns one VM and every Chunk compiled against it. Chunks are
// addressed by slot rather than handed back directly, so Exec can
// reliably "take" and "put" them around a run the way rs-lox's
// get_chunk/put_chunk pair does.
type Session struct {
	vm     *vm.VM
	chunks []*vm.Chunk
	debug  bool
}

func New(debug bool) *Session {
	return &Session{vm: vm.NewVM(), debug: debug}
}

// Compile compiles source into a new Chunk and returns its slot. A
// compile error still returns a usable Session (the Chunk is simply
// never registered), so the caller can report every collected error
// without losing the ability to try another line. When s.debug is set,
// a failed compile also logs the partial chunk's disassembly, mirroring
// rs-lox's RuntimeContext.debug dump on a failed compile.
func (s *Session) Compile(source string) (ChunkID, error) {
	c := vm.NewCompiler()
	chunk, err := c.Compile(source)
	if err != nil {
		if s.debug && chunk != nil {
			logrus.Debugln(chunk.Disassemble("failed compile"))
		}
		return -1, err
	}
	s.chunks = append(s.chunks, chunk)
	return ChunkID(len(s.chunks) - 1), nil
}

// getChunk takes ownership of the slot's Chunk, leaving nil behind —
// mirroring Option::take in rs-lox's get_chunk, so a double-exec of the
// same slot while one is already in flight finds no Chunk and fails with
// VM.Run's "chunk uninitialized" error instead of silently sharing state.
func (s *Session) getChunk(id ChunkID) *vm.Chunk {
	c := s.chunks[id]
	s.chunks[id] = nil
	return c
}

func (s *Session) putChunk(id ChunkID, c *vm.Chunk) { s.chunks[id] = c }

// Exec loads the Chunk addressed by id into the VM and runs it. The
// Chunk is restored to its slot before Exec returns, whether or not run
// succeeded, so a REPL can reference the same compiled line again (or a
// later line that shares its globals) after a runtime error.
func (s *Session) Exec(id ChunkID) error {
	c := s.getChunk(id)
	s.vm.Load(c)
	err := s.vm.Run()
	s.putChunk(id, c)
	return err
}

// StackTrace reports the VM's current operand-stack contents, used by
// the REPL's `:q` quit summary.
func (s *Session) StackTrace() string { return s.vm.DebugStackTrace() }

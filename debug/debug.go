package debug

// DEBUG gates Assertf panics and the VM/Compiler's verbose disassembly
// logging. It defaults to false; cmd wires it to the `-v/--verbosity`
// flag at startup.
var DEBUG = false

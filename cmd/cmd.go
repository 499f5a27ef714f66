package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unsafe"

	"github.com/chzyer/readline"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	easy "github.com/t-tomalak/logrus-easy-formatter"

	"github.com/loxvm/loxvm/debug"
	e "github.com/loxvm/loxvm/errors"
	"github.com/loxvm/loxvm/session"
	"github.com/loxvm/loxvm/vm"
)

// App builds the `loxvm` command line surface: a REPL when invoked bare,
// file interpretation when given a path, and an `info` subcommand
// reporting the byte layout of the VM's core types.
func App() (app *cobra.Command) {
	app = &cobra.Command{
		Use:   "loxvm [script]",
		Short: "Compile and run a Lox-family script, or launch the REPL",
		Args:  cobra.MaximumNArgs(1),
		// Errors are already cited against their source span by the
		// run functions; cobra should only contribute the exit code.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	app.Flags().SortFlags = true
	defaultVerbosityStr := "INFO"
	verbosity := app.Flags().StringP("verbosity", "v", defaultVerbosityStr, "Logging verbosity")

	app.RunE = func(_ *cobra.Command, args []string) error {
		verbosityLvl, err := logrus.ParseLevel(*verbosity)
		if err != nil {
			verbosityLvl, _ = logrus.ParseLevel(defaultVerbosityStr)
		}
		logrus.SetLevel(verbosityLvl)
		logrus.SetFormatter(&easy.Formatter{LogFormat: "//DBG// %msg%\n"})
		debug.DEBUG = verbosityLvl >= logrus.DebugLevel

		if len(args) == 1 {
			return runFile(args[0])
		}
		return runREPL()
	}

	app.AddCommand(infoCmd())
	return
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the byte layout of the VM's core types",
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Printf("OpCode     %d bytes\n", unsafe.Sizeof(vm.OpCode(0)))
			fmt.Printf("Value      %d bytes (interface word pair)\n", unsafe.Sizeof((vm.Value)(nil)))
			fmt.Printf("VNil       %d bytes\n", unsafe.Sizeof(vm.VNil{}))
			fmt.Printf("VBool      %d bytes\n", unsafe.Sizeof(vm.VBool(false)))
			fmt.Printf("VInt       %d bytes\n", unsafe.Sizeof(vm.VInt(0)))
			fmt.Printf("VFloat     %d bytes\n", unsafe.Sizeof(vm.VFloat(0)))
			fmt.Printf("VString    %d bytes (header only, string data is separate)\n", unsafe.Sizeof(vm.VString("")))
			return nil
		},
	}
}

func runFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	sess := session.New(debug.DEBUG)
	id, err := sess.Compile(string(src))
	if err != nil {
		fmt.Print(formatError(string(src), err))
		return err
	}
	if err := sess.Exec(id); err != nil {
		fmt.Print(formatError(string(src), err))
		return err
	}
	return nil
}

func runREPL() error {
	rl, err := readline.New("> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	sess := session.New(debug.DEBUG)
	for {
		line, err := rl.Readline()
		if err == io.EOF || err == readline.ErrInterrupt {
			break
		}
		if err != nil {
			return err
		}

		if strings.TrimSpace(line) == ":q" {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		id, err := sess.Compile(line)
		if err != nil {
			fmt.Print(formatError(line, err))
			continue
		}
		if err := sess.Exec(id); err != nil {
			fmt.Print(formatError(line, err))
		}
	}

	fmt.Println(sess.StackTrace())
	return nil
}

// formatError cites the offending source line(s) above each wrapped
// error message, rather than just printing bare Line numbers. A
// multierror (from a Compile call that collected more than one syntax
// error) is cited once per underlying error.
func formatError(source string, err error) string {
	lines := strings.Split(source, "\n")
	cite := func(line int) string {
		if line < 1 || line > len(lines) {
			return ""
		}
		return fmt.Sprintf("  %d | %s\n", line, lines[line-1])
	}

	var b strings.Builder
	var merr *multierror.Error
	if me, ok := err.(*multierror.Error); ok {
		merr = me
	} else {
		merr = multierror.Append(merr, err)
	}

	for _, single := range merr.Errors {
		line := -1
		switch v := single.(type) {
		case *e.CompilationError:
			line = v.Line
		case *e.RuntimeError:
			line = v.Line
		}
		if line >= 1 {
			b.WriteString(cite(line))
		}
		b.WriteString(single.Error())
		b.WriteByte('\n')
	}
	return b.String()
}

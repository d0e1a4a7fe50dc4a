// Package cli wires the lamavm command-line surface: run (default),
// verify, and idioms, using cobra for parsing and zerolog for diagnostic
// output, per the interpreter's ambient stack.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/arlovski/lamavm/pkg/bytecode"
	"github.com/arlovski/lamavm/pkg/heap"
	"github.com/arlovski/lamavm/pkg/idiom"
	"github.com/arlovski/lamavm/pkg/verifier"
	"github.com/arlovski/lamavm/pkg/vm"
)

const (
	ExitOK           = 0
	ExitVerifyFailed = 1
	ExitTrap         = 255
)

// Execute parses argv and runs the selected subcommand, returning the
// process exit code (never calling os.Exit itself, so tests can drive it
// without forking).
func Execute(argv []string, in io.Reader, out, errOut io.Writer) int {
	var logLevel string
	exitCode := ExitOK

	root := &cobra.Command{
		Use:           "lamavm <file.bc>",
		Short:         "run, verify or inspect a lamavm bytecode image",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := runFile(args[0], logger(logLevel, errOut), in, out)
			exitCode = code
			return err
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	root.SetArgs(argv)
	root.SetOut(out)
	root.SetErr(errOut)

	runCmd := &cobra.Command{
		Use:   "run <file.bc>",
		Short: "execute a bytecode image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := runFile(args[0], logger(logLevel, errOut), in, out)
			exitCode = code
			return err
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify <file.bc>",
		Short: "statically verify a bytecode image without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := verifyFile(args[0], errOut)
			exitCode = code
			return err
		},
	}

	idiomsCmd := &cobra.Command{
		Use:   "idioms <file.bc>",
		Short: "report the most frequent one- and two-instruction idioms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := idiomsFile(args[0], out)
			exitCode = code
			return err
		},
	}

	root.AddCommand(runCmd, verifyCmd, idiomsCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(errOut, err)
		if exitCode == ExitOK {
			exitCode = ExitTrap
		}
	}
	return exitCode
}

func logger(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func loadImage(path string) (*bytecode.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return bytecode.Load(f)
}

func runFile(path string, log zerolog.Logger, in io.Reader, out io.Writer) (int, error) {
	img, err := loadImage(path)
	if err != nil {
		return ExitTrap, err
	}
	h := heap.New(in, out)
	machine, err := vm.New(img, h, log)
	if err != nil {
		return ExitTrap, err
	}
	if err := machine.Run(); err != nil {
		return ExitTrap, err
	}
	return ExitOK, nil
}

func verifyFile(path string, errOut io.Writer) (int, error) {
	img, err := loadImage(path)
	if err != nil {
		return ExitTrap, err
	}
	res := verifier.Verify(img)
	for _, d := range res.Diagnostics {
		fmt.Fprintln(errOut, d.Error())
	}
	if res.Truncated {
		fmt.Fprintln(errOut, "... diagnostics truncated")
	}
	if !res.OK {
		return ExitVerifyFailed, nil
	}
	return ExitOK, nil
}

func idiomsFile(path string, out io.Writer) (int, error) {
	img, err := loadImage(path)
	if err != nil {
		return ExitTrap, err
	}
	for _, e := range idiom.Analyze(img) {
		names := make([]string, len(e.Sequence))
		for i, fp := range e.Sequence {
			names[i] = fp.String()
		}
		fmt.Fprintf(out, "%6d  %s\n", e.Count, strings.Join(names, " "))
	}
	return ExitOK, nil
}

// Copyright (c) 2025 A Bit of Help, Inc.

// Command sealpipe seals files into self-describing containers and restores them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	perrors "github.com/abitofhelp/sealed_container_pipeline/pkg/errors"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/logger"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/utils"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// ExitFunc is a function that exits the program with a given status code
type ExitFunc func(int)

// DefaultExitFunc is the default implementation of ExitFunc
var DefaultExitFunc = os.Exit

// command runs one subcommand.
type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"encode":     runEncode,
	"decode":     runDecode,
	"inspect":    runInspect,
	"keygen":     runKeygen,
	"algorithms": runAlgorithms,
}

const usage = `Usage: sealpipe <command> [flags] [arguments]

Commands:
  encode <input> <output>   seal a file into a container
  decode <input> <output>   restore a file from a container
  inspect <input>           describe a container without opening it
  keygen                    create an age identity and an encrypted keyring
  algorithms                list the registered algorithms

Run "sealpipe <command> --help" for the flags of a command.

Exit status is 1 on failure and 2 when the input can never be decoded: a
tampered, corrupt or unsupported container.
`

// Exit statuses.
const (
	exitFailure  = 1
	exitRejected = 2
)

// app is the state shared by subcommands.
type app struct {
	log    *zap.Logger
	stdout io.Writer
}

// run is the main logic of the application, extracted for testability
func run(args []string, log *zap.Logger, stdout io.Writer, exit ExitFunc) {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		exit(exitFailure)
		return
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stdout, "unknown command %q\n\n%s", args[0], usage)
		exit(exitFailure)
		return
	}

	// Create a context with cancellation for safety
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cleanup := utils.SetupGracefulShutdown(ctx, cancel, log, utils.ShutdownOptions{Exit: exit})
	defer cleanup()

	a := &app{log: log, stdout: stdout}
	err := cmd(ctx, a, args[1:])
	if a.log != log {
		defer logger.SafeSync(a.log)
	}
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}

	var ue usageError
	code := exitFailure
	switch {
	case errors.As(err, &ue):
		fmt.Fprintf(stdout, "Usage: sealpipe %s\n", ue.usage)
	case perrors.IsCancellationError(err):
		a.log.Warn("Processing was canceled", zap.Error(err))
	case perrors.IsTimeoutError(err):
		a.log.Error("Processing timed out", zap.Error(err))
	case perrors.IsIntegrityError(err):
		a.log.Error("Container failed verification", zap.Error(err))
		code = exitRejected
	case perrors.IsFatal(err):
		a.log.Error("Container rejected", zap.String("command", args[0]), zap.Error(err))
		code = exitRejected
	case perrors.IsIOError(err):
		a.log.Error("I/O error during processing", zap.Error(err))
	default:
		a.log.Error("Command failed", zap.String("command", args[0]), zap.Error(err))
	}
	exit(code)
}

// usageError reports wrong positional arguments.
type usageError struct {
	usage string
}

func (e usageError) Error() string {
	return "usage: sealpipe " + e.usage
}

func main() {
	// Initialize zap logger
	log := logger.InitLogger()
	defer func() {
		// Ensure logger syncs before exit
		logger.SafeSync(log)
	}()

	run(os.Args[1:], log, os.Stdout, DefaultExitFunc)
}

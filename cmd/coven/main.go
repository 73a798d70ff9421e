// Coven CLI - runs rituals, checks them, and serves the REPL and language server.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/chazu/coven/parser"
	"github.com/chazu/coven/vm"
)

// Version is the CLI and language server version.
const Version = "0.3.0"

// Exit codes.
const (
	exitOK       = 0
	exitRuntime  = 1
	exitParse    = 2
	exitInternal = 3
)

var flags = []cli.Flag{
	&cli.PathFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "read settings from `file` instead of the nearest coven.toml",
		EnvVars: []string{"COVEN_CONFIG"},
	},
	&cli.Uint64Flag{
		Name:        "seed",
		Usage:       "seed omen draws with `n`",
		DefaultText: "random",
		EnvVars:     []string{"COVEN_SEED"},
	},
	&cli.IntFlag{
		Name:        "workers",
		Aliases:     []string{"w"},
		Usage:       "run at most `n` spirits at once",
		DefaultText: "one per CPU",
		EnvVars:     []string{"COVEN_WORKERS"},
	},
	&cli.IntFlag{
		Name:    "verbose",
		Usage:   "log `level`: 0 errors only, 1 warnings, 2 notices, 3 info, 4 debug",
		Value:   0,
		EnvVars: []string{"COVEN_VERBOSE"},
	},
	&cli.PathFlag{
		Name:        "log-file",
		Usage:       "write logs to `path`",
		DefaultText: "stderr",
	},
	&cli.PathFlag{
		Name:        "journal-cbor",
		Usage:       "append spirit lifecycle records to a CBOR stream at `path`",
		DefaultText: "disabled",
	},
	&cli.PathFlag{
		Name:        "journal-sqlite",
		Usage:       "record spirit lifecycle events in the SQLite database at `path`",
		DefaultText: "disabled",
	},
}

func commands() []*cli.Command {
	return []*cli.Command{
		runCommand(),
		checkCommand(),
		replCommand(),
		lspCommand(),
	}
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "coven",
		Usage:     "summon spirits, share a grimoire",
		UsageText: "coven [global options] command [command options] [arguments...]",
		Version:   Version,
		Flags:     flags,
		Commands:  commands(),
		Before:    setup,
		Reader:    stdin,
		Writer:    stdout,
		ErrWriter: stderr,
		// Exit codes are chosen by exitCode, not by the cli package.
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func main() {
	os.Exit(run(os.Args, os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := newApp(stdin, stdout, stderr).Run(args)
	if err != nil {
		fmt.Fprintf(stderr, "coven: %v\n", err)
	}
	return exitCode(err)
}

// exitCode maps an evaluation outcome to the process exit status.
func exitCode(err error) int {
	var pe *parser.Error
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &pe):
		return exitParse
	case vm.IsFatal(err):
		return exitInternal
	default:
		return exitRuntime
	}
}

// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pub is a package management tool: it resolves a project's
// dependency constraints against the available package sources and records
// the result in a lockfile.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"

	pub "github.com/dam0vm3nt/pub"
	"github.com/dam0vm3nt/pub/solve"
)

// Exit codes, sysexits.h style; the front-end's contract with scripts.
const (
	exitSuccess     = 0
	exitUsage       = 64 // bad invocation
	exitData        = 65 // unresolvable constraints
	exitUnavailable = 69 // source transport failure
)

type command interface {
	Name() string           // "upgrade"
	Args() string           // "[packages...]"
	ShortHelp() string      // "Upgrade the locked versions"
	LongHelp() string       // "Upgrade the locked versions of all..."
	Register(*flag.FlagSet) // command-specific flags
	Hidden() bool           // hidden from help output
	Run(*pub.Ctx, []string) error
}

func main() {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to get working directory", err)
		os.Exit(1)
	}
	c := &Config{
		Args:       os.Args,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		WorkingDir: wd,
		Env:        os.Environ(),
	}
	os.Exit(c.Run())
}

// A Config specifies a full configuration for a pub execution.
type Config struct {
	WorkingDir     string    // Where to execute
	Args           []string  // Command-line arguments, starting with the program name
	Env            []string  // Environment variables
	Stdout, Stderr io.Writer // Log output
}

// Run executes a configuration and returns an exit code.
func (c *Config) Run() (exitCode int) {
	// Build the list of available commands.
	commands := []command{
		&getCommand{},
		&upgradeCommand{},
		&downgradeCommand{},
		&versionCommand{},
	}

	examples := [][2]string{
		{
			"pub get",
			"resolve dependencies, honoring the lockfile",
		},
		{
			"pub upgrade",
			"re-resolve everything onto the newest allowed versions",
		},
		{
			"pub upgrade somepackage",
			"unlock and upgrade only somepackage",
		},
	}

	outLogger := log.New(c.Stdout, "", 0)
	errLogger := log.New(c.Stderr, "", 0)

	usage := func() {
		errLogger.Println("pub is a tool for managing package dependencies")
		errLogger.Println()
		errLogger.Println("Usage: pub <command>")
		errLogger.Println()
		errLogger.Println("Commands:")
		errLogger.Println()
		w := tabwriter.NewWriter(c.Stderr, 0, 4, 2, ' ', 0)
		for _, cmd := range commands {
			if !cmd.Hidden() {
				fmt.Fprintf(w, "\t%s\t%s\n", cmd.Name(), cmd.ShortHelp())
			}
		}
		w.Flush()
		errLogger.Println()
		errLogger.Println("Examples:")
		for _, example := range examples {
			fmt.Fprintf(w, "\t%s\t%s\n", example[0], example[1])
		}
		w.Flush()
		errLogger.Println()
		errLogger.Println("Use \"pub help [command]\" for more information about a command.")
	}

	cmdName, printCommandHelp, exit := parseArgs(c.Args)
	if exit {
		usage()
		return exitUsage
	}

	for _, cmd := range commands {
		if cmd.Name() != cmdName {
			continue
		}

		// Build flag set with global flags in there.
		fs := flag.NewFlagSet(cmdName, flag.ContinueOnError)
		fs.SetOutput(c.Stderr)
		verbose := fs.Bool("v", false, "enable verbose logging")

		// Register the subcommand flags in there, too.
		cmd.Register(fs)

		// Override the usage text to something nicer.
		resetUsage(errLogger, fs, cmdName, cmd.Args(), cmd.LongHelp())

		if printCommandHelp {
			fs.Usage()
			return exitUsage
		}

		if err := fs.Parse(c.Args[2:]); err != nil {
			return exitUsage
		}

		ctx, err := pub.NewContext(c.WorkingDir, c.Env, outLogger, errLogger)
		if err != nil {
			errLogger.Printf("%v\n", err)
			return exitUsage
		}
		ctx.Verbose = *verbose

		if err := cmd.Run(ctx, fs.Args()); err != nil {
			errLogger.Printf("%v\n", err)
			return errToExitCode(err)
		}

		return exitSuccess
	}

	errLogger.Printf("pub: %s: no such command\n", cmdName)
	usage()
	return exitUsage
}

// errToExitCode classifies a command failure into the exit-code contract.
func errToExitCode(err error) int {
	var unavail *solve.SourceUnavailableError
	if errors.As(err, &unavail) {
		return exitUnavailable
	}
	if solve.IsResolutionFailure(errors.Cause(err)) {
		return exitData
	}
	return 1
}

func resetUsage(logger *log.Logger, fs *flag.FlagSet, name, args, longHelp string) {
	var (
		hasFlags   bool
		flagBlock  bytes.Buffer
		flagWriter = tabwriter.NewWriter(&flagBlock, 0, 4, 2, ' ', 0)
	)
	fs.VisitAll(func(f *flag.Flag) {
		hasFlags = true
		// Default-empty string vars should read "(default: <none>)"
		// rather than the comparatively ugly "(default: )".
		defValue := f.DefValue
		if defValue == "" {
			defValue = "<none>"
		}
		fmt.Fprintf(flagWriter, "\t-%s\t%s (default: %s)\n", f.Name, f.Usage, defValue)
	})
	flagWriter.Flush()
	fs.Usage = func() {
		logger.Printf("Usage: pub %s %s\n", name, args)
		logger.Println()
		logger.Println(strings.TrimSpace(longHelp))
		logger.Println()
		if hasFlags {
			logger.Println("Flags:")
			logger.Println()
			logger.Println(flagBlock.String())
		}
	}
}

// parseArgs determines the name of the pub command and whether the user
// asked for help to be printed.
func parseArgs(args []string) (cmdName string, printCmdUsage bool, exit bool) {
	isHelpArg := func() bool {
		return strings.Contains(strings.ToLower(args[1]), "help") || strings.ToLower(args[1]) == "-h"
	}

	switch len(args) {
	case 0, 1:
		exit = true
	case 2:
		if isHelpArg() {
			exit = true
		}
		cmdName = args[1]
	default:
		if isHelpArg() {
			cmdName = args[2]
			printCmdUsage = true
		} else {
			cmdName = args[1]
		}
	}
	return cmdName, printCmdUsage, exit
}

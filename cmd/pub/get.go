// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"strings"

	pub "github.com/dam0vm3nt/pub"
	"github.com/dam0vm3nt/pub/solve"
)

const getShortHelp = `Resolve dependencies, honoring the lockfile`
const getLongHelp = `
Get resolves the project's dependency constraints and writes the result to
the lockfile. Versions pinned by an existing lockfile are kept whenever the
constraints still allow them; only missing or no-longer-admissible packages
move.
`

type getCommand struct {
	dryRun bool
}

func (cmd *getCommand) Name() string      { return "get" }
func (cmd *getCommand) Args() string      { return "" }
func (cmd *getCommand) ShortHelp() string { return getShortHelp }
func (cmd *getCommand) LongHelp() string  { return getLongHelp }
func (cmd *getCommand) Hidden() bool      { return false }

func (cmd *getCommand) Register(fs *flag.FlagSet) {
	fs.BoolVar(&cmd.dryRun, "dry-run", false, "only report what would change, without writing")
}

func (cmd *getCommand) Run(ctx *pub.Ctx, args []string) error {
	return runSolve(ctx, solve.ModeGet, nil, cmd.dryRun)
}

// runSolve is the shared back half of get, upgrade and downgrade: load the
// project, solve under the given mode, and write out the results.
func runSolve(ctx *pub.Ctx, mode solve.Mode, toChange []string, dryRun bool) error {
	reg, env, err := ctx.SourceRegistry()
	if err != nil {
		return err
	}

	p, err := ctx.LoadProject(reg)
	if err != nil {
		return err
	}

	sm, err := solve.NewSourceManager(ctx.CacheDir, reg, ctx.Err)
	if err != nil {
		return err
	}
	defer sm.Release()

	params := solve.SolveParameters{
		Manifest: p.Pubspec,
		Mode:     mode,
		ToChange: toChange,
		Env:      env,
	}
	if p.Lock != nil {
		params.Lock = p.Lock
	}
	if ctx.Verbose {
		params.Trace = true
		params.TraceLogger = ctx.Err
	}

	s, err := solve.Prepare(params, sm)
	if err != nil {
		return err
	}

	res, err := s.Solve(context.Background())
	if err != nil {
		return err
	}

	newLock := pub.LockFromResult(res)

	if dryRun {
		reportChanges(ctx, p.Lock, newLock)
		return nil
	}

	if pub.LocksAreEq(p.Lock, newLock) {
		ctx.Out.Println("Dependencies are up to date.")
		return nil
	}

	sw := pub.NewSafeWriter(newLock, true)
	if err := sw.Write(p.AbsRoot, ctx.CacheDir, p.Pubspec.Name()); err != nil {
		return err
	}

	ctx.Out.Printf("Resolved %d packages.", len(newLock.P))
	return nil
}

// reportChanges prints the pin-by-pin delta between the old and new locks.
func reportChanges(ctx *pub.Ctx, old, next *pub.Lock) {
	var lines []string
	for _, id := range next.P {
		if old == nil {
			lines = append(lines, "+ "+id.Name()+" "+id.Version().String())
			continue
		}
		prev, had := old.IDFor(id.Name())
		switch {
		case !had:
			lines = append(lines, "+ "+id.Name()+" "+id.Version().String())
		case !prev.Version().Equal(id.Version()):
			lines = append(lines, "* "+id.Name()+" "+prev.Version().String()+" -> "+id.Version().String())
		}
	}
	if old != nil {
		for _, id := range old.P {
			if _, has := next.IDFor(id.Name()); !has {
				lines = append(lines, "- "+id.Name()+" "+id.Version().String())
			}
		}
	}

	if len(lines) == 0 {
		ctx.Out.Println("No changes.")
		return
	}
	ctx.Out.Println(strings.Join(lines, "\n"))
}

// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"

	pub "github.com/dam0vm3nt/pub"
	"github.com/dam0vm3nt/pub/solve"
)

const downgradeShortHelp = `Downgrade dependencies to the oldest allowed versions`
const downgradeLongHelp = `
Downgrade re-resolves the project's dependencies preferring the oldest
versions the constraints admit. Useful for verifying that declared lower
bounds actually work.
`

type downgradeCommand struct {
	dryRun bool
}

func (cmd *downgradeCommand) Name() string      { return "downgrade" }
func (cmd *downgradeCommand) Args() string      { return "[packages...]" }
func (cmd *downgradeCommand) ShortHelp() string { return downgradeShortHelp }
func (cmd *downgradeCommand) LongHelp() string  { return downgradeLongHelp }
func (cmd *downgradeCommand) Hidden() bool      { return false }

func (cmd *downgradeCommand) Register(fs *flag.FlagSet) {
	fs.BoolVar(&cmd.dryRun, "dry-run", false, "only report what would change, without writing")
}

func (cmd *downgradeCommand) Run(ctx *pub.Ctx, args []string) error {
	return runSolve(ctx, solve.ModeDowngrade, args, cmd.dryRun)
}

// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"

	pub "github.com/dam0vm3nt/pub"
	"github.com/dam0vm3nt/pub/solve"
)

const upgradeShortHelp = `Upgrade the locked versions of dependencies`
const upgradeLongHelp = `
Upgrade re-resolves the project's dependencies, ignoring the lockfile for
the named packages - or for everything, when no packages are named - and
prefers the newest versions the constraints admit.
`

type upgradeCommand struct {
	dryRun bool
}

func (cmd *upgradeCommand) Name() string      { return "upgrade" }
func (cmd *upgradeCommand) Args() string      { return "[packages...]" }
func (cmd *upgradeCommand) ShortHelp() string { return upgradeShortHelp }
func (cmd *upgradeCommand) LongHelp() string  { return upgradeLongHelp }
func (cmd *upgradeCommand) Hidden() bool      { return false }

func (cmd *upgradeCommand) Register(fs *flag.FlagSet) {
	fs.BoolVar(&cmd.dryRun, "dry-run", false, "only report what would change, without writing")
}

func (cmd *upgradeCommand) Run(ctx *pub.Ctx, args []string) error {
	return runSolve(ctx, solve.ModeUpgrade, args, cmd.dryRun)
}

// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"

	pub "github.com/dam0vm3nt/pub"
)

// version is overridden at build time via ldflags.
var version = "devel"

type versionCommand struct{}

func (cmd *versionCommand) Name() string      { return "version" }
func (cmd *versionCommand) Args() string      { return "" }
func (cmd *versionCommand) ShortHelp() string { return "Show the pub version information" }
func (cmd *versionCommand) LongHelp() string  { return "Show the pub version information" }
func (cmd *versionCommand) Hidden() bool      { return false }

func (cmd *versionCommand) Register(fs *flag.FlagSet) {}

func (cmd *versionCommand) Run(ctx *pub.Ctx, args []string) error {
	ctx.Out.Printf("pub version %s", version)
	return nil
}

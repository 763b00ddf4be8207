// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import "testing"

func TestParseArgs(t *testing.T) {
	cases := []struct {
		args         []string
		cmdName      string
		printCmdHelp bool
		exit         bool
	}{
		{[]string{"pub"}, "", false, true},
		{[]string{"pub", "help"}, "help", false, true},
		{[]string{"pub", "get"}, "get", false, false},
		{[]string{"pub", "help", "get"}, "get", true, false},
		{[]string{"pub", "-h", "get"}, "get", true, false},
		{[]string{"pub", "upgrade", "foo"}, "upgrade", false, false},
	}

	for _, c := range cases {
		cmdName, printCmdHelp, exit := parseArgs(c.args)
		if cmdName != c.cmdName || printCmdHelp != c.printCmdHelp || exit != c.exit {
			t.Errorf("parseArgs(%v) = (%q, %v, %v), want (%q, %v, %v)",
				c.args, cmdName, printCmdHelp, exit, c.cmdName, c.printCmdHelp, c.exit)
		}
	}
}

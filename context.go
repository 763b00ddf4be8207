// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pub

import (
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strings"

	semver "github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"

	"github.com/dam0vm3nt/pub/solve"
)

// Ctx defines the supporting context of the tool: where it runs, where the
// system cache lives, which environment it sees, and where output goes.
// There is no global state; everything threads through here.
type Ctx struct {
	WorkingDir string   // Where to execute.
	CacheDir   string   // The system cache root.
	Env        []string // Environment variables, as os.Environ() shapes them.

	Out *log.Logger // Required output loggers.
	Err *log.Logger

	Verbose bool // Enables more detailed logging, including solver trace.
}

// NewContext creates a context from a working directory and environment,
// deriving the cache directory from PUB_CACHE or the user's home.
func NewContext(wd string, env []string, out, errL *log.Logger) (*Ctx, error) {
	if wd == "" {
		return nil, errors.New("context requires a working directory")
	}

	c := &Ctx{
		WorkingDir: wd,
		Env:        env,
		Out:        out,
		Err:        errL,
	}

	c.CacheDir = getEnv(env, "PUB_CACHE")
	if c.CacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "unable to determine a cache directory")
		}
		c.CacheDir = filepath.Join(home, ".pub-cache")
	}

	return c, nil
}

func getEnv(env []string, key string) string {
	for _, kv := range env {
		if strings.HasPrefix(kv, key+"=") {
			return kv[len(key)+1:]
		}
	}
	return ""
}

// SourceRegistry assembles the default registry: hosted (honoring
// PUB_HOSTED_URL), git, path, and - when PUB_SDK_ROOT points at an SDK
// installation - sdk. It also reports the environment version map the
// solver pins magic packages with.
func (c *Ctx) SourceRegistry() (*solve.SourceRegistry, map[string]*semver.Version, error) {
	reg := solve.NewSourceRegistry()
	an := Analyzer{Registry: reg}

	var cache *solve.BoltCache
	if bc, err := solve.OpenBoltCache(c.CacheDir, 0); err == nil {
		cache = bc
	} else if c.Err != nil {
		c.Err.Printf("warning: continuing without a persistent source cache: %s", err)
	}

	reg.Register(solve.NewHostedSource(reg, getEnv(c.Env, "PUB_HOSTED_URL"), cache))
	reg.Register(solve.NewGitSource(c.CacheDir, an))
	reg.Register(solve.NewPathSource(an))

	env := make(map[string]*semver.Version)
	if root := getEnv(c.Env, "PUB_SDK_ROOT"); root != "" {
		v, err := readSDKVersion(root)
		if err != nil {
			return nil, nil, err
		}
		reg.Register(solve.NewSDKSource(root, v, an))
		env[solve.SDKMagicName] = v
	}

	return reg, env, nil
}

// readSDKVersion reads the version stamp an SDK installation carries at its
// root.
func readSDKVersion(root string) (*semver.Version, error) {
	data, err := ioutil.ReadFile(filepath.Join(root, "version"))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read SDK version from %s", root)
	}
	v, err := semver.NewVersion(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, errors.Wrapf(err, "SDK at %s declares a malformed version", root)
	}
	return v, nil
}

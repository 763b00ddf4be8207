// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pub

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// PackagesFileName is the runtime's flat package map, regenerated from the
// lock on every write.
const PackagesFileName = ".packages"

// SafeWriter performs the writes a successful resolution produces. A
// half-written lockfile never hits disk because each file goes to a temp
// sibling first and moves into place with a rename. The files are replaced
// one after the other, not as a group: if writing the packages file fails,
// the new lockfile is already in place.
type SafeWriter struct {
	Lock          *Lock
	WritePackages bool
}

// NewSafeWriter prepares a writer for the given lock.
func NewSafeWriter(l *Lock, writePackages bool) *SafeWriter {
	return &SafeWriter{Lock: l, WritePackages: writePackages}
}

// Write persists the lockfile (and, when requested, the packages file)
// under root.
func (sw *SafeWriter) Write(root, cachedir, rootName string) error {
	if sw.Lock == nil {
		return errors.New("SafeWriter has no lock to write")
	}

	data, err := sw.Lock.Marshal()
	if err != nil {
		return err
	}

	if err := atomicWrite(filepath.Join(root, LockName), data); err != nil {
		return errors.Wrap(err, "error while writing lock")
	}

	if sw.WritePackages {
		pf := sw.Lock.PackagesFile(cachedir, rootName, root)
		if err := atomicWrite(filepath.Join(root, PackagesFileName), []byte(pf)); err != nil {
			return errors.Wrap(err, "error while writing packages file")
		}
	}

	return nil
}

// atomicWrite writes data to a temp file in path's directory, then renames
// it into place.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := ioutil.TempFile(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

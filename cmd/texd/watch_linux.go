// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"log"
	"os"

	"github.com/maruel/interrupt"
	fsnotify "gopkg.in/fsnotify.v1"
)

// watchExecutable returns when the texd binary is replaced or the process is
// interrupted. The returned bool is true in the first case.
func watchExecutable() (bool, error) {
	fileName, err := os.Executable()
	if err != nil {
		return false, err
	}
	fi, err := os.Stat(fileName)
	if err != nil {
		return false, err
	}
	mod0 := fi.ModTime()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return false, err
	}
	defer watcher.Close()
	if err = watcher.Add(fileName); err != nil {
		return false, err
	}
	for {
		select {
		case <-interrupt.Channel:
			return false, nil
		case err = <-watcher.Errors:
			return false, err
		case ev := <-watcher.Events:
			// A package upgrade usually removes or renames the old binary.
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				log.Printf("%s was replaced", fileName)
				return true, nil
			}
			if fi, err = os.Stat(fileName); err != nil || !fi.ModTime().Equal(mod0) {
				log.Printf("%s was modified", fileName)
				return true, err
			}
		}
	}
}

// Copyright 2020 The texd Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package te

import (
	"errors"
	"sort"
	"sync"
)

var (
	mu      sync.Mutex
	drivers = map[string]Driver{}
)

// Register makes a driver available by name. It is meant to be called from
// the init() function of the package binding the vendor SDK.
func Register(name string, d Driver) error {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := drivers[name]; ok {
		return errors.New("te: driver " + name + " already registered")
	}
	drivers[name] = d
	return nil
}

// Lookup returns the driver registered under name. An empty name returns the
// only registered driver, if exactly one is.
func Lookup(name string) (Driver, error) {
	mu.Lock()
	defer mu.Unlock()
	if name == "" {
		if len(drivers) != 1 {
			return nil, errors.New("te: no ThermalExpert driver registered; use -fake to simulate a camera")
		}
		for _, d := range drivers {
			return d, nil
		}
	}
	d, ok := drivers[name]
	if !ok {
		return nil, errors.New("te: unknown driver " + name)
	}
	return d, nil
}

// Drivers returns the sorted names of the registered drivers.
func Drivers() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, 0, len(drivers))
	for n := range drivers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pebbledb

import (
	"fmt"

	"github.com/utxokit/wtxdb/kvdb"
)

const dbType = "pebbledb"

// parseArgs parses the arguments from the kvdb Open/Create methods.
func parseArgs(funcName string, args ...interface{}) (string, *Options, error) {
	if len(args) < 1 || len(args) > 2 {
		return "", nil, fmt.Errorf("invalid arguments to %s.%s -- "+
			"expected database path and optional options",
			dbType, funcName)
	}

	path, ok := args[0].(string)
	if !ok {
		return "", nil, fmt.Errorf("first argument to %s.%s is "+
			"invalid -- expected database path string", dbType,
			funcName)
	}

	var opts *Options
	if len(args) == 2 {
		opts, ok = args[1].(*Options)
		if !ok {
			return "", nil, fmt.Errorf("second argument to %s.%s "+
				"is invalid -- expected *pebbledb.Options",
				dbType, funcName)
		}
	}

	return path, opts, nil
}

// openDBDriver is the callback provided during driver registration that
// opens an existing database for use.
func openDBDriver(args ...interface{}) (kvdb.DB, error) {
	path, opts, err := parseArgs("Open", args...)
	if err != nil {
		return nil, err
	}
	return openDB(path, opts, false)
}

// createDBDriver is the callback provided during driver registration that
// creates, initializes, and opens a database for use.
func createDBDriver(args ...interface{}) (kvdb.DB, error) {
	path, opts, err := parseArgs("Create", args...)
	if err != nil {
		return nil, err
	}
	return openDB(path, opts, true)
}

func init() {
	// Register the driver.
	driver := kvdb.Driver{
		DbType: dbType,
		Create: createDBDriver,
		Open:   openDBDriver,
	}
	if err := kvdb.RegisterDriver(driver); err != nil {
		panic(fmt.Sprintf("Failed to register database driver '%s': %v",
			dbType, err))
	}
}

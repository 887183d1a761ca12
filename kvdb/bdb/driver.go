// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bdb

import (
	"fmt"

	"github.com/utxokit/wtxdb/kvdb"
)

const dbType = "bdb"

// parseArgs parses the arguments from the kvdb Open/Create methods.
func parseArgs(funcName string, args ...interface{}) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("invalid arguments to %s.%s -- expected "+
			"database path", dbType, funcName)
	}

	path, ok := args[0].(string)
	if !ok {
		return "", fmt.Errorf("first argument to %s.%s is invalid -- "+
			"expected database path string", dbType, funcName)
	}

	return path, nil
}

// openDBDriver is the callback provided during driver registration that
// opens an existing database for use.
func openDBDriver(args ...interface{}) (kvdb.DB, error) {
	path, err := parseArgs("Open", args...)
	if err != nil {
		return nil, err
	}
	return openDB(path, false)
}

// createDBDriver is the callback provided during driver registration that
// creates, initializes, and opens a database for use.
func createDBDriver(args ...interface{}) (kvdb.DB, error) {
	path, err := parseArgs("Create", args...)
	if err != nil {
		return nil, err
	}
	return openDB(path, true)
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

// Copyright (c) 2025-2026 The utxokit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txdb

import "fmt"

// ErrorCode identifies a category of error.
type ErrorCode uint8

// These constants are used to identify a specific Error.
const (
	// ErrDatabase indicates an error with the underlying key-value store.
	// When this error code is set, the Err field of the Error will be
	// set to the underlying error returned from the store.  A database
	// error is always fatal to the batch it occurred in.
	ErrDatabase ErrorCode = iota

	// ErrData describes an error where data stored in the transaction
	// database is incorrect.  This may be due to missing values,
	// truncated serializations, or failed parsing.
	ErrData

	// ErrInput describes an error where the caller passed invalid input,
	// such as referencing a transaction output that does not exist.
	ErrInput

	// ErrAlreadyExists describes an error where creation could not
	// complete because the state already exists, such as creating a
	// transaction store over an existing one, or confirming an already
	// confirmed transaction.
	ErrAlreadyExists

	// ErrNoExists describes an error where the transaction store cannot
	// be opened due to it not already existing.
	ErrNoExists

	// ErrInvalidState describes an error where an operation was attempted
	// against a transaction in the wrong lifecycle state, such as
	// disconnecting a transaction that was never confirmed or abandoning
	// a confirmed transaction.
	ErrInvalidState

	// ErrUnknownVersion describes an error where the transaction store
	// was created with an unknown, newer database version.
	ErrUnknownVersion
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:       "ErrDatabase",
	ErrData:           "ErrData",
	ErrInput:          "ErrInput",
	ErrAlreadyExists:  "ErrAlreadyExists",
	ErrNoExists:       "ErrNoExists",
	ErrInvalidState:   "ErrInvalidState",
	ErrUnknownVersion: "ErrUnknownVersion",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s, ok := errorCodeStrings[e]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", uint8(e))
}

// Error provides a single type for errors that can happen during transaction
// store operation.
type Error struct {
	Code ErrorCode // Describes the kind of error
	Desc string    // Human readable description of the issue
	Err  error     // Underlying error, optional
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Desc + ": " + e.Err.Error()
	}
	return e.Desc
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// storeError creates an Error given a set of arguments.
func storeError(c ErrorCode, desc string, err error) Error {
	return Error{Code: c, Desc: desc, Err: err}
}

// IsErrorCode returns whether err is an Error with the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	serr, ok := err.(Error)
	return ok && serr.Code == code
}

/*
Copyright 2023 Nike, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ggerrors defines the SDK call error channel - the uniform error
// codes returned by every SDK operation, as opposed to the per-request
// status classification which lives in the wire package.
package ggerrors

import (
	"github.com/nuclio/errors"
)

// Sentinel errors for each SDK error code. Callers compare with
// errors.RootCause after unwrapping.
var (
	ErrOutOfMemory      = errors.New("Process out of memory")
	ErrInvalidParameter = errors.New("Invalid input parameter")
	ErrInvalidState     = errors.New("Invalid state")
	ErrInternalFailure  = errors.New("Internal failure")
	ErrTerminate        = errors.New("Received signal to terminate")

	// ErrDisconnected is raised when the connection to the core is lost.
	// On the wire it is carried as CodeInternalFailure, but in-process
	// callers can tell connection loss apart from other internal failures.
	ErrDisconnected = errors.New("Disconnected from core")
)

// Code is the wire representation of an SDK error
type Code int32

const (
	CodeSuccess Code = iota
	CodeOutOfMemory
	CodeInvalidParameter
	CodeInvalidState
	CodeInternalFailure
	CodeTerminate
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeOutOfMemory:
		return "outOfMemory"
	case CodeInvalidParameter:
		return "invalidParameter"
	case CodeInvalidState:
		return "invalidState"
	case CodeInternalFailure:
		return "internalFailure"
	case CodeTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Err returns the sentinel error matching the code, nil for success
func (c Code) Err() error {
	switch c {
	case CodeSuccess:
		return nil
	case CodeOutOfMemory:
		return ErrOutOfMemory
	case CodeInvalidParameter:
		return ErrInvalidParameter
	case CodeInvalidState:
		return ErrInvalidState
	case CodeInternalFailure:
		return ErrInternalFailure
	case CodeTerminate:
		return ErrTerminate
	default:
		return errors.Errorf("Unknown error code: %d", int32(c))
	}
}

// CodeOf classifies an error chain into a wire code. Anything that isn't
// one of the SDK sentinels is reported as an internal failure.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}

	switch errors.RootCause(err) {
	case ErrOutOfMemory:
		return CodeOutOfMemory
	case ErrInvalidParameter:
		return CodeInvalidParameter
	case ErrInvalidState:
		return CodeInvalidState
	case ErrTerminate:
		return CodeTerminate
	default:
		return CodeInternalFailure
	}
}

// Is reports whether the root cause of err is the given sentinel
func Is(err error, sentinel error) bool {
	if err == nil {
		return sentinel == nil
	}

	return errors.RootCause(err) == sentinel
}

// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package merrors re-exports the standard error helpers and adds the two
// error classes the measurement runtime distinguishes: retryable (a local
// failure the caller may retry or skip) and fatal (a contract violation
// that must abort the process).
package merrors

import (
	stdliberrors "errors"
	"fmt"
)

var (
	ErrUnsupported = stdliberrors.ErrUnsupported

	As     = stdliberrors.As
	Is     = stdliberrors.Is
	Join   = stdliberrors.Join
	New    = stdliberrors.New
	Unwrap = stdliberrors.Unwrap
)

func NewRetryable(text string) RetryableError {
	return &retryableError{text}
}

func Retryable(err error) bool {
	var rerr RetryableError
	return As(err, &rerr)
}

type RetryableError interface {
	error
	Retryable()
}

type retryableError struct {
	text string
}

func (r *retryableError) Error() string {
	return r.text
}

func (r *retryableError) Retryable() {}

// FatalError marks a contract violation the runtime cannot recover from:
// out-of-memory, timestamp regression, re-entrant MPP init, a late switch
// to multi-process mode after the first trace flush. Knobs lists the
// configuration variable names (if any) an operator should check.
type FatalError struct {
	Message string
	Knobs   []string
	Cause   error
}

func NewFatal(message string, knobs ...string) *FatalError {
	return &FatalError{Message: message, Knobs: knobs}
}

func (f *FatalError) Error() string {
	if len(f.Knobs) == 0 {
		return f.Message
	}
	return fmt.Sprintf("%s (check: %v)", f.Message, f.Knobs)
}

func (f *FatalError) Unwrap() error {
	return f.Cause
}

func Fatal(err error) bool {
	var ferr *FatalError
	return As(err, &ferr)
}

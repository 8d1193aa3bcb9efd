// Copyright (C) 2018 Rob Caelers <rob.caelers@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package errkind defines the DFU error taxonomy shared by the transport,
// protocol and engine layers.
package errkind

import "fmt"

// Kind classifies why a DFU operation failed, per the protocol's error
// taxonomy. Callers branch on Kind rather than on error strings.
type Kind int

const (
	// Unknown is the zero value; never returned by this package.
	Unknown Kind = iota
	IoError
	Timeout
	FramingError
	ProtocolDesync
	ServerError
	CrcMismatch
	PackageError
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case IoError:
		return "IoError"
	case Timeout:
		return "Timeout"
	case FramingError:
		return "FramingError"
	case ProtocolDesync:
		return "ProtocolDesync"
	case ServerError:
		return "ServerError"
	case CrcMismatch:
		return "CrcMismatch"
	case PackageError:
		return "PackageError"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// DfuError is the typed result carried by every failure path in this module,
// per the redesign note in SPEC_FULL.md §9 ("Error propagation"). It
// participates in github.com/pkg/errors wrapping: Cause()/errors.Cause
// unwraps straight through to it, and errors.Wrap can be layered on top
// without losing the Kind.
type DfuError struct {
	Kind Kind
	// ServerCode is the raw bootloader result code when Kind == ServerError;
	// zero otherwise.
	ServerCode byte
	msg        string
}

func (e *DfuError) Error() string {
	if e.Kind == ServerError {
		return fmt.Sprintf("%s: %s (code 0x%02x)", e.Kind, e.msg, e.ServerCode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// New builds a DfuError of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *DfuError {
	return &DfuError{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// NewServerError builds a DfuError for a non-success bootloader result code.
func NewServerError(code byte, msg string) *DfuError {
	return &DfuError{Kind: ServerError, ServerCode: code, msg: msg}
}

// Is reports whether err carries the given Kind, unwrapping both
// github.com/pkg/errors wrapping and the standard library's.
func Is(err error, kind Kind) bool {
	type causer interface {
		Cause() error
	}
	type unwrapper interface {
		Unwrap() error
	}
	for err != nil {
		if de, ok := err.(*DfuError); ok {
			return de.Kind == kind
		}
		if c, ok := err.(causer); ok {
			err = c.Cause()
			continue
		}
		if u, ok := err.(unwrapper); ok {
			err = u.Unwrap()
			continue
		}
		return false
	}
	return false
}

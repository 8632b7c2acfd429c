package mdf4

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers match with errors.Is; structured context
// is available via errors.As on the wrapper types below.
var (
	ErrIO                 = errors.New("mdf4: i/o error")
	ErrFileIdentifier     = errors.New("mdf4: file identifier error")
	ErrFileVersioning     = errors.New("mdf4: file versioning error")
	ErrInvalidBlock       = errors.New("mdf4: invalid block")
	ErrInvalidData        = errors.New("mdf4: invalid data")
	ErrUnsupportedFeature = errors.New("mdf4: unsupported feature")
	ErrConversion         = errors.New("mdf4: conversion error")
	ErrInvalidState       = errors.New("mdf4: invalid state")
)

// FileIdentifierError reports a file whose ID block does not carry the
// expected "MDF     " tag.
type FileIdentifierError struct {
	Found string
}

func (e *FileIdentifierError) Error() string {
	return fmt.Sprintf("mdf4: unexpected file identifier %q", e.Found)
}

func (e *FileIdentifierError) Unwrap() error { return ErrFileIdentifier }

// FileVersioningError reports a format version outside [400, 411].
type FileVersioningError struct {
	Version int
}

func (e *FileVersioningError) Error() string {
	return fmt.Sprintf("mdf4: unsupported format version %d", e.Version)
}

func (e *FileVersioningError) Unwrap() error { return ErrFileVersioning }

// InvalidBlockError reports a block tag mismatch at a known offset.
type InvalidBlockError struct {
	Offset   uint64
	Expected string
	Found    string
}

func (e *InvalidBlockError) Error() string {
	return fmt.Sprintf("mdf4: invalid block at offset %d: expected %q, found %q", e.Offset, e.Expected, e.Found)
}

func (e *InvalidBlockError) Unwrap() error { return ErrInvalidBlock }

// InvalidDataError reports a structural inconsistency: a bad length, an
// out-of-range field, or a cycle in a reference chain.
type InvalidDataError struct {
	Context string
}

func (e *InvalidDataError) Error() string {
	return fmt.Sprintf("mdf4: invalid data: %s", e.Context)
}

func (e *InvalidDataError) Unwrap() error { return ErrInvalidData }

// UnsupportedFeatureError reports a recognized but unimplemented block
// kind (DZ, AT, EV, and similar).
type UnsupportedFeatureError struct {
	What string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("mdf4: unsupported feature: %s", e.What)
}

func (e *UnsupportedFeatureError) Unwrap() error { return ErrUnsupportedFeature }

// ConversionError reports a failure inside the conversion engine: a
// formula parse error, an undefined variable, or a unit mismatch on
// write.
type ConversionError struct {
	Context string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("mdf4: conversion error: %s", e.Context)
}

func (e *ConversionError) Unwrap() error { return ErrConversion }

// InvalidStateError reports an out-of-order call against the writer
// state machine.
type InvalidStateError struct {
	Context string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("mdf4: invalid state: %s", e.Context)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

func wrapIO(context string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrIO, context, err)
}

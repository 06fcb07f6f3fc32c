package models

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrRecoverable matches every error that skips a single object without
// stopping the run. Use errors.Is(err, ErrRecoverable).
var ErrRecoverable = errors.New("recoverable ingest error")

// SkipReason categorizes why an object did not become a node or edge
type SkipReason string

const (
	SkipNoMITREID       SkipReason = "no_mitre_id"
	SkipMissingRef      SkipReason = "missing_reference"
	SkipInactiveRef     SkipReason = "inactive_reference"
	SkipUnmappedRef     SkipReason = "unmapped_reference"
	SkipUnknownTactic   SkipReason = "unknown_tactic"
	SkipUnsupportedType SkipReason = "unsupported_endpoint_type"
	SkipUnknownKind     SkipReason = "unknown_relationship"
)

// ParseError is fatal: the bundle is not usable input
type ParseError struct {
	Source string // file path or "<reader>"
	Index  int    // object index inside "objects", -1 for the bundle itself
	Err    error
}

func (e *ParseError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("parse %s: object %d: %v", e.Source, e.Index, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NewParseError returns a ParseError with a stack trace attached
func NewParseError(source string, index int, err error) error {
	return pkgerrors.WithStack(&ParseError{Source: source, Index: index, Err: err})
}

// StoreError is fatal: the graph store rejected or could not serve a write
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError returns a StoreError with a stack trace attached
func NewStoreError(op string, err error) error {
	return pkgerrors.WithStack(&StoreError{Op: op, Err: err})
}

// IsFatal reports whether err must abort the run
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrRecoverable)
}

// MappingError: an object has no usable ATT&CK external ID
type MappingError struct {
	StixID string
	Type   STIXType
	Reason SkipReason
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("map %s %s: %s", e.Type, e.StixID, e.Reason)
}

func (e *MappingError) Is(target error) bool { return target == ErrRecoverable }

// ReferenceError: a relationship endpoint (or a kill-chain phase) does not
// resolve to a node of this run
type ReferenceError struct {
	RelationshipID string
	Ref            string
	Reason         SkipReason
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("resolve %s of %s: %s", e.Ref, e.RelationshipID, e.Reason)
}

func (e *ReferenceError) Is(target error) bool { return target == ErrRecoverable }

// ClassificationError: the (relationship_type, source, target) triple is not
// an edge kind of the graph
type ClassificationError struct {
	RelationshipID   string
	RelationshipType string
	SourceType       STIXType
	TargetType       STIXType
	Reason           SkipReason
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify %s (%s)-[%s]->(%s): %s",
		e.RelationshipID, e.SourceType, e.RelationshipType, e.TargetType, e.Reason)
}

func (e *ClassificationError) Is(target error) bool { return target == ErrRecoverable }

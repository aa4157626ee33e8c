// Copyright (C) 2026 Teascade. Licensed under GPL-3.0 (https://www.gnu.org/licenses/gpl-3.0.txt)

// Package pwerr provides a structured, kind-tagged error type used across
// the daemon so callers can branch on error class (parse failure vs config
// failure vs graph protocol failure) without string matching.
package pwerr

import "fmt"

// Kind categorizes an error by how the daemon should react to it.
type Kind int

const (
	KindUnknown Kind = iota
	KindParse
	KindConfig
	KindProtocol
	KindChannel
	KindMissingFactory
	KindPairing
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindConfig:
		return "config"
	case KindProtocol:
		return "protocol"
	case KindChannel:
		return "channel"
	case KindMissingFactory:
		return "missing_factory"
	case KindPairing:
		return "pairing"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a structured error carrying a Kind and optional attributes for
// the object id/type/property that caused it.
type Error struct {
	Kind       Kind
	Message    string
	Underlying error
	Attributes map[string]any
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// New creates a new Error of the specified kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Errorf creates a new Error of the specified kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error as a new Error of the specified kind.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Underlying: err}
}

// Wrapf wraps an existing error as a new Error of the specified kind with a
// formatted message.
func Wrapf(err error, kind Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Underlying: err}
}

// WithAttr attaches a key/value pair to the error's Attributes, creating the
// map if needed. Returns the same *Error for chaining.
func (e *Error) WithAttr(key string, value any) *Error {
	if e.Attributes == nil {
		e.Attributes = make(map[string]any)
	}
	e.Attributes[key] = value
	return e
}

// PropertyMissing builds the KindParse error for a missing required property
// on a graph object.
func PropertyMissing(id uint32, objType, property string, fullProps map[string]string) error {
	return (&Error{
		Kind:    KindParse,
		Message: fmt.Sprintf("object %d (%s): missing property %q", id, objType, property),
	}).WithAttr("id", id).WithAttr("type", objType).WithAttr("property", property).WithAttr("props", fullProps)
}

// InvalidNumber builds the KindParse error for a malformed numeric property.
func InvalidNumber(id uint32, objType, property, value string, cause error) error {
	return Wrapf(cause, KindParse, "object %d (%s): invalid number for %q: %q", id, objType, property, value)
}

// InvalidVersion builds the KindParse error for a schema version mismatch.
func InvalidVersion(id uint32, got, want uint32) error {
	return Errorf(KindParse, "object %d: invalid schema version: got %d, want %d", id, got, want)
}

// InvalidDirection builds the KindParse error for an unrecognized direction literal.
func InvalidDirection(id uint32, value string) error {
	return Errorf(KindParse, "object %d: invalid direction %q", id, value)
}

// InvalidChannel builds the KindParse error for an unrecognized channel value.
func InvalidChannel(id uint32, value string) error {
	return Errorf(KindParse, "object %d: invalid channel %q", id, value)
}

// NoLinkFactory builds the KindMissingFactory error for an unresolved link
// factory type name.
func NoLinkFactory(typeName string) error {
	return Errorf(KindMissingFactory, "no factory implementing %q is registered", typeName)
}

// IsKind reports whether err is a *Error of the given kind (direct or wrapped).
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if casted, ok := err.(*Error); ok {
			e = casted
			if e.Kind == kind {
				return true
			}
			err = e.Underlying
			continue
		}
		break
	}
	return false
}

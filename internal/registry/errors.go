package registry

import "fmt"

// Kind is the closed set of error kinds reportable by the Registry Store,
// mirroring the uniform error taxonomy shared across the core (spec §7).
type Kind string

const (
	KindNotFound            Kind = "NotFound"
	KindAlreadyExists       Kind = "AlreadyExists"
	KindInvalidInput        Kind = "InvalidInput"
	KindConstraintViolation Kind = "ConstraintViolation"
	KindCorruption          Kind = "Corruption"
	KindIoError             Kind = "IoError"
	KindAlreadyTerminal     Kind = "AlreadyTerminal"
)

// Error is the typed error returned by every Registry Store operation.
// It is never swallowed: callers propagate it unchanged up to the Request
// Facade (spec §7).
type Error struct {
	Kind   Kind
	Entity string // "agent" or "task"
	Key    string // id, name, or field depending on Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s %q: %s: %v", e.Kind, e.Entity, e.Key, e.Reason, e.Err)
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s %s %q: %s", e.Kind, e.Entity, e.Key, e.Reason)
	}
	return fmt.Sprintf("%s %s %q", e.Kind, e.Entity, e.Key)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers can
// use errors.Is(err, registry.NotFound) style sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func notFound(entity, key string) error {
	return &Error{Kind: KindNotFound, Entity: entity, Key: key, Reason: "no such " + entity}
}

func alreadyExists(entity, key string) error {
	return &Error{Kind: KindAlreadyExists, Entity: entity, Key: key, Reason: entity + " already exists"}
}

func invalidInput(entity, field, reason string) error {
	return &Error{Kind: KindInvalidInput, Entity: entity, Key: field, Reason: reason}
}

func constraintViolation(entity, key, invariant string) error {
	return &Error{Kind: KindConstraintViolation, Entity: entity, Key: key, Reason: invariant}
}

func corruption(entity, key string, err error) error {
	return &Error{Kind: KindCorruption, Entity: entity, Key: key, Reason: "malformed on-disk record", Err: err}
}

func ioError(entity, key, op string, err error) error {
	return &Error{Kind: KindIoError, Entity: entity, Key: key, Reason: op, Err: err}
}

func alreadyTerminal(entity, key string) error {
	return &Error{Kind: KindAlreadyTerminal, Entity: entity, Key: key, Reason: entity + " is already in a terminal state"}
}

// NotFound, AlreadyExists, etc. are sentinel *Error values usable with
// errors.Is(err, registry.NotFound).
var (
	NotFound            = &Error{Kind: KindNotFound}
	AlreadyExists       = &Error{Kind: KindAlreadyExists}
	InvalidInput        = &Error{Kind: KindInvalidInput}
	ConstraintViolation = &Error{Kind: KindConstraintViolation}
	Corruption          = &Error{Kind: KindCorruption}
	IoError             = &Error{Kind: KindIoError}
	AlreadyTerminal     = &Error{Kind: KindAlreadyTerminal}
)

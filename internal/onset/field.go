// SPDX-License-Identifier: MIT
package onset

import "encoding/json"

// State reports how far a derived sample field has progressed.
type State uint8

const (
	// Pending means the field still waits for context that has not been ingested.
	Pending State = iota
	// Ready means the field holds a computed value.
	Ready
	// Undefined means the field was passed by the frontier without a value,
	// e.g. lead-in samples or a tempo window with zero elapsed time.
	Undefined
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Undefined:
		return "undefined"
	default:
		return "unknown"
	}
}

// Field is a derived value that is written at most once.
type Field[T any] struct {
	value T
	state State
}

// ReadyField returns a field holding v. Hosts use it to rebuild samples
// decoded from the wire.
func ReadyField[T any](v T) Field[T] {
	return Field[T]{value: v, state: Ready}
}

// UndefinedField returns a field resolved without a value.
func UndefinedField[T any]() Field[T] {
	return Field[T]{state: Undefined}
}

// Get returns the value and true once the field is Ready.
func (f Field[T]) Get() (T, bool) {
	return f.value, f.state == Ready
}

// State returns the field state.
func (f Field[T]) State() State {
	return f.state
}

// Resolved reports whether the field left the Pending state.
func (f Field[T]) Resolved() bool {
	return f.state != Pending
}

// MarshalJSON encodes a Ready field as its value and anything else as null.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.state != Ready {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

func (f *Field[T]) set(v T) bool {
	if f.state != Pending {
		return false
	}
	f.value = v
	f.state = Ready
	return true
}

func (f *Field[T]) markUndefined() bool {
	if f.state != Pending {
		return false
	}
	f.state = Undefined
	return true
}

func (f *Field[T]) reset() {
	var zero T
	f.value = zero
	f.state = Pending
}

package ledger

import (
	"encoding/json"
)

// =============================================================================
// FIELD - Three-state partial update value
// =============================================================================

type fieldState uint8

const (
	fieldUnset fieldState = iota
	fieldNull
	fieldValue
)

// Field is an optional field of a partial update document. The zero value is
// Unset (leave unchanged). Null clears the stored value. Set replaces it.
//
// Field implements json.Unmarshaler so that an absent key stays Unset and an
// explicit JSON null becomes Null.
type Field[T any] struct {
	state fieldState
	value T
}

func Set[T any](v T) Field[T] { return Field[T]{state: fieldValue, value: v} }

func Null[T any]() Field[T] { return Field[T]{state: fieldNull} }

// Present reports whether the field was supplied at all (null or value).
func (f Field[T]) Present() bool { return f.state != fieldUnset }

func (f Field[T]) IsNull() bool { return f.state == fieldNull }

// Value returns the value and whether one was set.
func (f Field[T]) Value() (T, bool) {
	return f.value, f.state == fieldValue
}

// Ptr returns nil for Unset or Null, otherwise a pointer to the value.
func (f Field[T]) Ptr() *T {
	if f.state != fieldValue {
		return nil
	}
	v := f.value
	return &v
}

// ApplyTo writes a set value into dst. Null writes the zero value.
func (f Field[T]) ApplyTo(dst *T) {
	switch f.state {
	case fieldValue:
		*dst = f.value
	case fieldNull:
		var zero T
		*dst = zero
	}
}

// ApplyNullable writes into a nullable destination: Null clears it.
func ApplyNullable[T any](f Field[T], dst **T) {
	switch f.state {
	case fieldValue:
		v := f.value
		*dst = &v
	case fieldNull:
		*dst = nil
	}
}

func (f *Field[T]) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		f.state = fieldNull
		var zero T
		f.value = zero
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	f.state = fieldValue
	f.value = v
	return nil
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.state != fieldValue {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

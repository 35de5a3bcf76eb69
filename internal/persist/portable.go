// Package persist moves values from the memory mirror to the durable store:
// portable conversion, the write serializer and the background channel.
package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSerialization marks a value that cannot cross the persistence boundary.
var ErrSerialization = errors.New("value is not portable")

// SerializationError reports which value failed to convert and why.
type SerializationError struct {
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%v: %v", ErrSerialization, e.Err)
	}
	return fmt.Sprintf("%v: %s: %v", ErrSerialization, e.Key, e.Err)
}

func (e *SerializationError) Unwrap() []error { return []error{ErrSerialization, e.Err} }

// ToPortable converts v into a self-contained JSON document that shares no
// memory with v. Channels, functions, complex numbers, NaN/Inf floats and
// cyclic values are rejected with a *SerializationError.
func ToPortable(v interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		serializationErrorsTotal.Inc()
		return nil, &SerializationError{Err: err}
	}
	return b, nil
}

// Clone deep-copies v through its portable form. Numbers inside untyped
// containers decode as json.Number so no precision is lost.
func Clone[T any](v T) (T, error) {
	var out T
	raw, err := ToPortable(v)
	if err != nil {
		return out, err
	}
	if err := Decode(raw, &out); err != nil {
		return out, &SerializationError{Err: err}
	}
	return out, nil
}

// Decode unmarshals a portable value, keeping numbers as json.Number.
func Decode(raw json.RawMessage, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}

package schema

import (
	"bytes"
	"encoding/json"
)

// Nullable is a patch field that distinguishes "absent" from "null".
//
//	{}                      -> Set=false
//	{"description": null}   -> Set=true, Value=nil
//	{"description": "x"}    -> Set=true, Value="x"
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// Some returns a set field holding v.
func Some[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Value: &v}
}

// Null returns a set field holding null.
func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

// Ptr returns a copy of the held value, or nil.
func (n Nullable[T]) Ptr() *T {
	if n.Value == nil {
		return nil
	}
	v := *n.Value
	return &v
}

// IsZero lets `omitzero` drop fields that were never set.
func (n Nullable[T]) IsZero() bool {
	return !n.Set
}

func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	if n.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*n.Value)
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

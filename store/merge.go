package store

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/vmihailenco/msgpack/v5"
)

// MergeFields returns a copy of item with fields applied. Field names are the
// msgpack names of T. Unknown names are ignored.
func MergeFields[T any](item T, fields Fields) (T, error) {
	if len(fields) == 0 {
		return item, nil
	}

	raw, err := msgpack.Marshal(item)
	if err != nil {
		return item, mergeError(err)
	}
	m := map[string]any{}
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return item, mergeError(err)
	}
	for k, v := range fields {
		m[k] = v
	}

	if raw, err = msgpack.Marshal(m); err != nil {
		return item, mergeError(err)
	}
	var out T
	if err := msgpack.Unmarshal(raw, &out); err != nil {
		return item, mergeError(err)
	}
	return out, nil
}

func mergeError(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "merge fields").
		WithTextCode("STORE_MERGE_FAILED")
}

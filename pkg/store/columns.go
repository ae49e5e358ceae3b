package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON-backed column types. All marshal to a JSON text column and scan back
// from []byte or string; a nil map/slice stores SQL NULL.

// StringList is an ordered list of strings, used for a source block's mapped
// target languages.
type StringList []string

// KeyMap holds a decomposed content item: unit key to unit value.
type KeyMap map[string]string

// RevisionMap holds the last-fetched external revision per unit key. Flat
// items use a single entry under their data type.
type RevisionMap map[string]string

// ExtraMap is open-ended metadata attached to blocks and course links.
type ExtraMap map[string]any

// SnapshotMap is a version snapshot: data type to value, where parsed data
// types store a nested key-to-value map.
type SnapshotMap map[string]any

func (l StringList) Value() (driver.Value, error)  { return jsonValue(l, l == nil) }
func (l *StringList) Scan(src any) error           { return jsonScan(l, src) }
func (m KeyMap) Value() (driver.Value, error)      { return jsonValue(m, m == nil) }
func (m *KeyMap) Scan(src any) error               { return jsonScan(m, src) }
func (m RevisionMap) Value() (driver.Value, error) { return jsonValue(m, m == nil) }
func (m *RevisionMap) Scan(src any) error          { return jsonScan(m, src) }
func (m ExtraMap) Value() (driver.Value, error)    { return jsonValue(m, m == nil) }
func (m *ExtraMap) Scan(src any) error             { return jsonScan(m, src) }
func (m SnapshotMap) Value() (driver.Value, error) { return jsonValue(m, m == nil) }
func (m *SnapshotMap) Scan(src any) error          { return jsonScan(m, src) }

// Contains reports whether the list holds s.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// Add returns the list with s appended if not already present.
func (l StringList) Add(s string) StringList {
	if l.Contains(s) {
		return l
	}
	return append(l, s)
}

// Remove returns the list without s.
func (l StringList) Remove(s string) StringList {
	out := make(StringList, 0, len(l))
	for _, v := range l {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func jsonValue(v any, isNil bool) (driver.Value, error) {
	if isNil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return string(data), nil
}

func jsonScan(dst any, src any) error {
	if src == nil {
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported json column source type %T", src)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal json column: %w", err)
	}
	return nil
}

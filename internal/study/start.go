package study

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StartSpec is the start_datetime setting: either one timestamp string or a
// list of them. A two-element list is a [begin, end] range; any other list
// length is a set of candidate start times.
type StartSpec struct {
	values []string
	list   bool
}

// SingleStart returns a spec giving every generation the same start time.
func SingleStart(ts string) StartSpec {
	return StartSpec{values: []string{ts}}
}

// StartList returns a list-shaped spec. Two values form a range.
func StartList(ts ...string) StartSpec {
	return StartSpec{values: append([]string(nil), ts...), list: true}
}

// IsZero reports whether start_datetime was not set.
func (s StartSpec) IsZero() bool {
	return len(s.values) == 0 && !s.list
}

// IsSingle reports whether the spec is a single timestamp string.
func (s StartSpec) IsSingle() bool {
	return !s.list && len(s.values) == 1
}

// IsRange reports whether the spec is a two-element [begin, end] range.
func (s StartSpec) IsRange() bool {
	return s.list && len(s.values) == 2
}

// Values returns a copy of the timestamp strings.
func (s StartSpec) Values() []string {
	return append([]string(nil), s.values...)
}

func (s StartSpec) MarshalJSON() ([]byte, error) {
	switch {
	case s.IsZero():
		return []byte("null"), nil
	case s.IsSingle():
		return json.Marshal(s.values[0])
	default:
		return json.Marshal(s.values)
	}
}

func (s *StartSpec) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = StartSpec{}
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = SingleStart(single)
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("start_datetime must be a string or a list of strings: %w", err)
	}
	*s = StartList(list...)
	return nil
}

package study

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
)

// Each section marshals through a method-less alias so the custom methods
// below do not recurse.
type (
	configJSON      Config
	studyJSON       Study
	marketJSON      Market
	participantJSON Participant
	traderJSON      Trader
	serverJSON      Server
	launcherJSON    Launcher
)

func (c Config) MarshalJSON() ([]byte, error) {
	return marshalObject(configJSON(c), c.Extra)
}

func (c *Config) UnmarshalJSON(data []byte) error {
	var v configJSON
	extra, err := unmarshalObject(data, &v)
	if err != nil {
		return err
	}
	*c = Config(v)
	c.Extra = extra
	return nil
}

func (s Study) MarshalJSON() ([]byte, error) {
	return marshalObject(studyJSON(s), s.Extra)
}

func (s *Study) UnmarshalJSON(data []byte) error {
	var v studyJSON
	extra, err := unmarshalObject(data, &v)
	if err != nil {
		return err
	}
	*s = Study(v)
	s.Extra = extra
	return nil
}

func (m Market) MarshalJSON() ([]byte, error) {
	return marshalObject(marketJSON(m), m.Extra)
}

func (m *Market) UnmarshalJSON(data []byte) error {
	var v marketJSON
	extra, err := unmarshalObject(data, &v)
	if err != nil {
		return err
	}
	*m = Market(v)
	m.Extra = extra
	return nil
}

func (p Participant) MarshalJSON() ([]byte, error) {
	return marshalObject(participantJSON(p), p.Extra)
}

func (p *Participant) UnmarshalJSON(data []byte) error {
	var v participantJSON
	extra, err := unmarshalObject(data, &v)
	if err != nil {
		return err
	}
	*p = Participant(v)
	p.Extra = extra
	return nil
}

func (t Trader) MarshalJSON() ([]byte, error) {
	return marshalObject(traderJSON(t), t.Extra)
}

func (t *Trader) UnmarshalJSON(data []byte) error {
	var v traderJSON
	extra, err := unmarshalObject(data, &v)
	if err != nil {
		return err
	}
	*t = Trader(v)
	t.Extra = extra
	return nil
}

func (s Server) MarshalJSON() ([]byte, error) {
	return marshalObject(serverJSON(s), s.Extra)
}

func (s *Server) UnmarshalJSON(data []byte) error {
	var v serverJSON
	extra, err := unmarshalObject(data, &v)
	if err != nil {
		return err
	}
	*s = Server(v)
	s.Extra = extra
	return nil
}

func (l Launcher) MarshalJSON() ([]byte, error) {
	return marshalObject(launcherJSON(l), l.Extra)
}

func (l *Launcher) UnmarshalJSON(data []byte) error {
	var v launcherJSON
	extra, err := unmarshalObject(data, &v)
	if err != nil {
		return err
	}
	*l = Launcher(v)
	l.Extra = extra
	return nil
}

// marshalObject encodes v and adds the extra keys v does not already emit.
func marshalObject(v any, extra map[string]any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for k, x := range extra {
		if _, ok := fields[k]; ok {
			continue
		}
		raw, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		fields[k] = raw
	}
	return json.Marshal(fields)
}

// unmarshalObject decodes data into v and returns the keys v does not declare.
// Numbers in the returned map are json.Number so they re-encode unchanged.
func unmarshalObject(data []byte, v any) (map[string]any, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	for _, k := range jsonKeys(v) {
		delete(fields, k)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// jsonKeys lists the JSON names of the struct fields v points to.
func jsonKeys(v any) []string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		keys = append(keys, name)
	}
	return keys
}

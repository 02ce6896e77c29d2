package dependency

import (
	"encoding/json"
	"reflect"
)

// Configuration is a single configuration variable an insertable read
// during construction or insert. Equality is by Key; change detection
// compares Value. Value is one of: nil, string, bool, or []string (a
// list of paths).
type Configuration struct {
	Key    string
	Value  interface{}
	Policy Policy
}

// Equal reports whether two configuration dependencies name the same key.
func (c Configuration) Equal(other Configuration) bool {
	return c.Key == other.Key
}

// ValueChanged reports whether c.Value differs from other.Value, using
// deep equality since Value may hold a []string.
func (c Configuration) ValueChanged(other Configuration) bool {
	return !reflect.DeepEqual(c.Value, other.Value)
}

type configurationJSON struct {
	Key    string      `json:"config_keys"`
	Value  interface{} `json:"value"`
	Policy Policy      `json:"policy"`
}

func (c Configuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(configurationJSON{Key: c.Key, Value: c.Value, Policy: c.Policy})
}

func (c *Configuration) UnmarshalJSON(b []byte) error {
	var cj configurationJSON
	if err := json.Unmarshal(b, &cj); err != nil {
		return err
	}
	c.Key, c.Policy = cj.Key, cj.Policy
	// JSON arrays decode to []interface{}; normalize list-of-path values
	// back to []string so ValueChanged's reflect.DeepEqual lines up with
	// values built directly from Go string slices.
	if items, ok := cj.Value.([]interface{}); ok {
		strs := make([]string, len(items))
		for i, it := range items {
			s, _ := it.(string)
			strs[i] = s
		}
		c.Value = strs
	} else {
		c.Value = cj.Value
	}
	return nil
}

// ConfigurationSet is an unordered collection of configuration
// dependencies keyed by Key.
type ConfigurationSet map[string]Configuration

func NewConfigurationSet(deps ...Configuration) ConfigurationSet {
	s := make(ConfigurationSet, len(deps))
	for _, d := range deps {
		s[d.Key] = d
	}
	return s
}

func (s ConfigurationSet) Add(c Configuration) {
	s[c.Key] = c
}

func (s ConfigurationSet) Slice() []Configuration {
	out := make([]Configuration, 0, len(s))
	for _, c := range s {
		out = append(out, c)
	}
	return out
}

package config

import (
	"strconv"
	"unicode/utf8"
)

// Options is a free-form parser options bag with typed accessors. Missing or
// mistyped keys return the provided default.
type Options map[string]any

// Any returns the raw value for key, or nil.
func (o Options) Any(key string) any {
	if o == nil {
		return nil
	}
	return o[key]
}

func (o Options) String(key, def string) string {
	if s, ok := o.Any(key).(string); ok {
		return s
	}
	return def
}

func (o Options) Bool(key string, def bool) bool {
	switch v := o.Any(key).(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Int accepts JSON numbers (float64), YAML ints and numeric strings.
func (o Options) Int(key string, def int) int {
	switch v := o.Any(key).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Rune returns the first rune of a string option, e.g. "comma": ";".
func (o Options) Rune(key string, def rune) rune {
	s, ok := o.Any(key).(string)
	if !ok || s == "" {
		return def
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return def
	}
	return r
}

// StringMap returns a string-to-string object option. Non-string values are
// skipped.
func (o Options) StringMap(key string) map[string]string {
	raw, ok := o.Any(key).(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Strings returns a list-of-strings option.
func (o Options) Strings(key string) []string {
	raw, ok := o.Any(key).([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

package command

import (
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/schema"
)

// Options is the option bag of one invocation: flag name to a string, bool or number.
// A name is present when its key exists with a non-nil value.
type Options map[string]any

// IsSet reports whether name is present.
func (o Options) IsSet(name string) bool {
	v, ok := o[name]
	return ok && v != nil
}

// String returns the value of name formatted as a string, or "" if absent.
func (o Options) String(name string) string {
	if !o.IsSet(name) {
		return ""
	}
	switch v := o[name].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns the value of name as a bool. Strings are parsed with strconv.ParseBool.
func (o Options) Bool(name string) bool {
	switch v := o[name].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// Int returns the value of name as an int. ok is false if the value is absent or is
// not a whole number.
func (o Options) Int(name string) (n int, ok bool) {
	switch v := o[name].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// Clone returns a shallow copy of the options.
func (o Options) Clone() Options {
	if o == nil {
		return Options{}
	}
	return maps.Clone(o)
}

// Names returns the names of the present options, sorted.
func (o Options) Names() []string {
	names := make([]string, 0, len(o))
	for k := range o {
		if o.IsSet(k) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

var optionDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	d.SetAliasTag("opt")
	return d
}()

// Decode fills dst, a pointer to a struct with `opt:"name"` tags, from the options.
func (o Options) Decode(dst any) error {
	src := make(map[string][]string, len(o))
	for k := range o {
		if o.IsSet(k) {
			src[k] = []string{o.String(k)}
		}
	}
	if err := optionDecoder.Decode(dst, src); err != nil {
		return fmt.Errorf("could not decode options: %w", err)
	}
	return nil
}

package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"m365cli/apiclients/m365"
)

// Kind classifies a failed invocation.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindResolution
	KindTransport
	KindAggregate
)

var kindName = map[Kind]string{
	KindValidation: "validation",
	KindResolution: "resolution",
	KindTransport:  "transport",
	KindAggregate:  "aggregate",
}

// String returns the Kind name.
func (k Kind) String() string {
	if n, ok := kindName[k]; ok {
		return n
	}
	return "unknown"
}

// Error is the single error shape returned across a command boundary.
type Error struct {
	Kind    Kind
	Message string
	Err     error // the original failure, if any
}

// Error returns the message only.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the original failure.
func (e *Error) Unwrap() error {
	return e.Err
}

// Validationf returns a validation Error.
func Validationf(format string, a ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, a...)}
}

// Resolutionf returns a resolution (not found or ambiguous) Error.
func Resolutionf(format string, a ...any) *Error {
	return &Error{Kind: KindResolution, Message: fmt.Sprintf(format, a...)}
}

// Aggregatef returns an aggregate batch Error.
func Aggregatef(format string, a ...any) *Error {
	return &Error{Kind: KindAggregate, Message: fmt.Sprintf(format, a...)}
}

// AggregateSeparator joins the items listed in an aggregate error.
const AggregateSeparator = ", "

// Aggregate returns an aggregate Error listing items after prefix.
func Aggregate(prefix string, items []string) *Error {
	return &Error{Kind: KindAggregate, Message: prefix + strings.Join(items, AggregateSeparator)}
}

// Normalize maps any failure value onto an *Error. The first matching rule wins:
//
//  1. a value already carrying a message (*Error, *OutputError, {"message": "..."})
//  2. an OData error envelope, such as an API error body
//  3. a plain string
//  4. anything else, stringified
//
// Values without a kind of their own are transport errors. An *Error wrapped in
// another error is unwrapped and returned as is, keeping its kind and dropping the
// wrapping text.
func Normalize(v any) *Error {
	if v == nil {
		return nil
	}

	// 1
	if err, ok := v.(error); ok {
		var oe *OutputError
		if errors.As(err, &oe) && oe.Err != nil {
			return oe.Err
		}
		var ce *Error
		if errors.As(err, &ce) {
			return ce
		}
	}
	if m, ok := v.(map[string]any); ok {
		if msg, ok := m["message"].(string); ok {
			return &Error{Kind: KindTransport, Message: msg}
		}
	}

	// 2
	if msg, ok := odataMessage(v); ok {
		e := &Error{Kind: KindTransport, Message: msg}
		if err, ok := v.(error); ok {
			e.Err = err
		}
		return e
	}

	// 3
	if s, ok := v.(string); ok {
		return &Error{Kind: KindTransport, Message: s}
	}

	// 4
	if err, ok := v.(error); ok {
		return &Error{Kind: KindTransport, Message: err.Error(), Err: err}
	}
	return &Error{Kind: KindTransport, Message: fmt.Sprint(v)}
}

// odataMessage extracts the message leaf of an OData error envelope.
func odataMessage(v any) (string, bool) {
	var envelope map[string]any
	switch t := v.(type) {
	case map[string]any:
		envelope = t
	case []byte:
		envelope = decodeEnvelope(t)
	case json.RawMessage:
		envelope = decodeEnvelope(t)
	case error:
		var re *m365.ResponseError
		if errors.As(t, &re) {
			envelope = decodeEnvelope(re.Body)
		}
	}
	if envelope == nil {
		return "", false
	}

	for _, path := range [][]string{
		{"error", "odata.error", "message", "value"},
		{"odata.error", "message", "value"},
		{"error", "error", "message"},
		{"error", "message", "value"},
		{"error", "message"},
	} {
		if s, ok := lookupString(envelope, path); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func decodeEnvelope(b []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

func lookupString(m map[string]any, path []string) (string, bool) {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = obj[key]
		if !ok {
			return "", false
		}
	}
	s, ok := cur.(string)
	return s, ok
}

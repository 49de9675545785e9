// Package output formats the values logged by commands.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const (
	JSON = "json"
	Text = "text"
)

// Format renders v for the given mode. Text mode limits list output to properties,
// when given.
func Format(v any, mode string, properties []string) (string, error) {
	switch mode {
	case "", JSON:
		return formatJSON(v)
	case Text:
		return formatText(v, properties)
	default:
		return "", fmt.Errorf("unknown output mode %q", mode)
	}
}

func formatJSON(v any) (string, error) {
	switch t := v.(type) {
	case json.RawMessage:
		return string(t), nil
	case string:
		return t, nil
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("could not format output as json: %w", err)
	}
	return string(b), nil
}

func formatText(v any, properties []string) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}

	generic, err := toGeneric(v)
	if err != nil {
		return "", err
	}

	switch t := generic.(type) {
	case []any:
		return formatList(t, properties), nil
	case map[string]any:
		return formatObject(t), nil
	case nil:
		return "", nil
	default:
		return scalar(t), nil
	}
}

// toGeneric round trips v through json so structs and raw messages can be treated
// alike.
func toGeneric(v any) (any, error) {
	var b []byte
	switch t := v.(type) {
	case json.RawMessage:
		b = t
	default:
		var err error
		b, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("could not format output as text: %w", err)
		}
	}
	var generic any
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()
	if err := d.Decode(&generic); err != nil {
		return nil, fmt.Errorf("could not format output as text: %w", err)
	}
	return generic, nil
}

func formatList(items []any, properties []string) string {
	if len(items) == 0 {
		return ""
	}
	columns := properties
	if len(columns) == 0 {
		columns = keysOf(items)
	}
	if len(columns) == 0 {
		lines := make([]string, 0, len(items))
		for _, it := range items {
			lines = append(lines, scalar(it))
		}
		return strings.Join(lines, "\n")
	}

	rows := make([][]string, 0, len(items))
	for _, it := range items {
		obj, _ := it.(map[string]any)
		row := make([]string, len(columns))
		for i, c := range columns {
			row[i] = scalar(obj[c])
		}
		rows = append(rows, row)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(columns...).
		Rows(rows...)
	return t.String()
}

func formatObject(obj map[string]any) string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, scalar(obj[k])))
	}
	return strings.Join(lines, "\n")
}

func keysOf(items []any) []string {
	seen := map[string]bool{}
	var keys []string
	for _, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			continue
		}
		for k := range obj {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

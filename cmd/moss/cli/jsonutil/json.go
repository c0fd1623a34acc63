// Package jsonutil holds the one JSON encoding moss writes: two-space
// indentation, no HTML escaping and a trailing newline. Settings files and
// every --json output use it.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Marshal encodes v in the moss format.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write encodes v to w in the moss format.
func Write(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}
	return nil
}

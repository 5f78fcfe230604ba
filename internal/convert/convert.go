// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package convert turns bound values into their wire representation for a
// media type. The output for a given value is always the same.
package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

const (
	JSON = "application/json"
	YAML = "application/yaml"
	Text = "text/plain"
)

// aliases maps alternative spellings to the canonical media type.
var aliases = map[string]string{
	"application/json":   JSON,
	"text/json":          JSON,
	"application/yaml":   YAML,
	"application/x-yaml": YAML,
	"text/yaml":          YAML,
	"text/plain":         Text,
}

// Normalize returns the canonical form of mediaType, dropping parameters such
// as charset.
func Normalize(mediaType string) (string, error) {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return "", fmt.Errorf("invalid media type %q: %s", mediaType, err)
	}
	canonical, ok := aliases[strings.ToLower(mt)]
	if !ok {
		return "", fmt.Errorf("unsupported media type %q", mediaType)
	}
	return canonical, nil
}

// Convert encodes v for mediaType.
func Convert(v any, mediaType string) (string, error) {
	mt, err := Normalize(mediaType)
	if err != nil {
		return "", err
	}
	switch mt {
	case JSON:
		return canonicalJSON(v)
	case YAML:
		return canonicalYAML(v)
	default:
		return plainText(v)
	}
}

// canonicalJSON marshals v with sorted object keys, NFC normalised strings
// and no HTML escaping.
func canonicalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cannot convert %T to JSON: %s", v, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("cannot convert %T to JSON: %s", v, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Maps are encoded with sorted keys.
	if err := enc.Encode(normalizeStrings(generic)); err != nil {
		return "", fmt.Errorf("cannot convert %T to JSON: %s", v, err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// normalizeStrings NFC normalises every string, object keys included, of a
// decoded JSON document.
func normalizeStrings(v any) any {
	switch val := v.(type) {
	case string:
		return norm.NFC.String(val)
	case []any:
		for i, elem := range val {
			val[i] = normalizeStrings(elem)
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[norm.NFC.String(k)] = normalizeStrings(elem)
		}
		return out
	default:
		return v
	}
}

func canonicalYAML(v any) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("cannot convert %T to YAML: %s", v, err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("cannot convert %T to YAML: %s", v, err)
	}
	return buf.String(), nil
}

// plainText formats scalars and fmt.Stringers.
func plainText(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case fmt.Stringer:
		return val.String(), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(val), nil
	}
	return "", fmt.Errorf("cannot convert %T to text/plain", v)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package jsonx extracts JSON objects from sloppy LLM output. Models wrap
// answers in prose, markdown fences or both; Extract tries progressively
// looser strategies before giving up.
package jsonx

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when no parseable object was found in the input.
var ErrNoJSON = errors.New("no JSON object found")

// Extract unmarshals the first JSON object found in raw into v.
// Strategies, in order: the whole string, a fenced code block, the first
// balanced brace group.
func Extract(raw string, v any) error {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ErrNoJSON
	}

	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}

	if block := fencedBlock(s); block != "" {
		if err := json.Unmarshal([]byte(block), v); err == nil {
			return nil
		}
	}

	if obj := firstObject(s); obj != "" {
		if err := json.Unmarshal([]byte(obj), v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("extract from %d bytes: %w", len(raw), ErrNoJSON)
}

// fencedBlock returns the contents of the first markdown code fence,
// tolerating an optional language tag after the opening backticks.
func fencedBlock(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return ""
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		tag := strings.TrimSpace(rest[:nl])
		if tag == "" || strings.EqualFold(tag, "json") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

// ExtractWithKey behaves like Extract but only accepts objects carrying the
// given top-level key. Balanced groups without the key are skipped, including
// outer objects whose nested children hold it.
func ExtractWithKey(raw, key string, v any) error {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ErrNoJSON
	}

	if hasKey(s, key) {
		if err := json.Unmarshal([]byte(s), v); err == nil {
			return nil
		}
	}

	if block := fencedBlock(s); block != "" && hasKey(block, key) {
		if err := json.Unmarshal([]byte(block), v); err == nil {
			return nil
		}
	}

	for from := 0; from < len(s); {
		obj, start := objectFrom(s, from)
		if start < 0 {
			break
		}
		if obj != "" && hasKey(obj, key) {
			if err := json.Unmarshal([]byte(obj), v); err == nil {
				return nil
			}
		}
		from = start + 1
	}

	return fmt.Errorf("extract object with %q from %d bytes: %w", key, len(raw), ErrNoJSON)
}

func hasKey(s, key string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}

// firstObject scans for the first balanced {...} group, honoring JSON string
// literals and escape sequences so braces inside strings do not miscount.
func firstObject(s string) string {
	obj, _ := objectFrom(s, 0)
	return obj
}

// objectFrom returns the balanced {...} group starting at the first brace at
// or after from, and that brace's index. A start of -1 means no brace remains;
// an empty obj with a valid start means the group never closed.
func objectFrom(s string, from int) (string, int) {
	off := strings.IndexByte(s[from:], '{')
	if off < 0 {
		return "", -1
	}
	start := from + off
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], start
			}
		}
	}
	return "", start
}

package ai

import (
	"encoding/json"
	"errors"
	"strings"
)

var errNoJSON = errors.New("response contains no JSON value")

// ExtractJSON returns the JSON value embedded in a model response, dropping
// markdown code fences and any prose around it.
func ExtractJSON(s string) (string, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		s = strings.TrimSpace(rest)
	}
	if json.Valid([]byte(s)) {
		return s, nil
	}
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return "", errNoJSON
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return "", errNoJSON
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", errors.New("response contains malformed JSON")
	}
	return candidate, nil
}

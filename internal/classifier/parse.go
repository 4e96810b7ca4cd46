package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse marks a classification response that is not a JSON
// array of {name, confidence} objects.
var ErrMalformedResponse = errors.New("malformed classification response")

// FormatError describes why a response was rejected.
type FormatError struct {
	Reason string
	Raw    string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMalformedResponse.Error(), e.Reason)
}

// Unwrap lets errors.Is match ErrMalformedResponse.
func (e *FormatError) Unwrap() error {
	return ErrMalformedResponse
}

// Ranking is one scored category from the service.
type Ranking struct {
	Name       string
	Confidence float64
}

// ParseRanking validates and decodes a response body. A surrounding markdown
// code fence is tolerated.
func ParseRanking(raw string) ([]Ranking, error) {
	body := stripFence(raw)
	var items []json.RawMessage
	// A bare null decodes into a nil slice without error.
	if err := json.Unmarshal([]byte(body), &items); err != nil || items == nil {
		return nil, &FormatError{Reason: "not a json array", Raw: raw}
	}
	out := make([]Ranking, 0, len(items))
	for i, item := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			return nil, &FormatError{Reason: fmt.Sprintf("element %d is not an object", i), Raw: raw}
		}
		var r Ranking
		if !present(fields["name"]) || json.Unmarshal(fields["name"], &r.Name) != nil {
			return nil, &FormatError{Reason: fmt.Sprintf("element %d has no string name", i), Raw: raw}
		}
		if !present(fields["confidence"]) || json.Unmarshal(fields["confidence"], &r.Confidence) != nil {
			return nil, &FormatError{Reason: fmt.Sprintf("element %d has no numeric confidence", i), Raw: raw}
		}
		out = append(out, r)
	}
	return out, nil
}

// Best returns the first ranking with the highest confidence.
func Best(rankings []Ranking) (Ranking, bool) {
	if len(rankings) == 0 {
		return Ranking{}, false
	}
	best := rankings[0]
	for _, r := range rankings[1:] {
		if r.Confidence > best.Confidence {
			best = r
		}
	}
	return best, true
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

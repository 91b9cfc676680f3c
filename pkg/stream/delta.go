package stream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DeltaKind is the type tag of a record in the chat data stream
type DeltaKind string

const (
	TextDelta        DeltaKind = "text-delta"
	CodeDelta        DeltaKind = "code-delta"
	SpreadsheetDelta DeltaKind = "spreadsheet-delta"
	Title            DeltaKind = "title"
	ID               DeltaKind = "id"
	Suggestion       DeltaKind = "suggestion"
	ClearDelta       DeltaKind = "clear"
	Finish           DeltaKind = "finish"
	UserMessageID    DeltaKind = "user-message-id"
	KindDelta        DeltaKind = "kind"
	ActivityDelta    DeltaKind = "activity-delta"
	SourceDelta      DeltaKind = "source-delta"
)

var knownKinds = map[DeltaKind]bool{
	TextDelta:        true,
	CodeDelta:        true,
	SpreadsheetDelta: true,
	Title:            true,
	ID:               true,
	Suggestion:       true,
	ClearDelta:       true,
	Finish:           true,
	UserMessageID:    true,
	KindDelta:        true,
	ActivityDelta:    true,
	SourceDelta:      true,
}

// Known reports whether k belongs to the fixed tag set
func (k DeltaKind) Known() bool {
	return knownKinds[k]
}

// Delta is one incremental update from the chat backend.
// Content is decoded lazily according to Type.
type Delta struct {
	Type    DeltaKind       `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// ErrMalformedDelta is returned for records that are not objects with a type tag
var ErrMalformedDelta = errors.New("malformed delta")

// ParseDelta decodes a raw stream record. It only checks the envelope; the
// content is validated by whoever consumes it.
func ParseDelta(raw json.RawMessage) (Delta, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Delta{}, fmt.Errorf("%w: not an object", ErrMalformedDelta)
	}

	tag, ok := fields["type"]
	if !ok {
		return Delta{}, fmt.Errorf("%w: missing type", ErrMalformedDelta)
	}

	var kind string
	if err := json.Unmarshal(tag, &kind); err != nil || kind == "" {
		return Delta{}, fmt.Errorf("%w: type is not a string", ErrMalformedDelta)
	}

	return Delta{Type: DeltaKind(kind), Content: fields["content"]}, nil
}

// Text decodes a string payload
func (d Delta) Text() (string, error) {
	var s string
	if err := json.Unmarshal(d.Content, &s); err != nil {
		return "", fmt.Errorf("%s content is not a string: %w", d.Type, err)
	}
	return s, nil
}

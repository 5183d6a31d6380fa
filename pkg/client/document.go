package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field names of the Freshservice ticket payload.
const (
	// RecordKey is the envelope key wrapping the ticket object.
	RecordKey = "ticket"

	// FieldID is the ticket identifier.
	FieldID = "id"

	// FieldUpdatedAt is the ISO-8601 last update timestamp.
	FieldUpdatedAt = "updated_at"
)

// Document is one ticket exactly as returned by the API. It is only read,
// never modified in place.
type Document struct {
	body map[string]any
}

// NewDocument wraps an already decoded payload.
func NewDocument(body map[string]any) *Document {
	return &Document{body: body}
}

// DecodeDocument parses a JSON object. Numbers are kept as json.Number so
// re-encoding does not lose precision.
func DecodeDocument(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if body == nil {
		return nil, fmt.Errorf("%w: null document", ErrMalformedPayload)
	}
	return &Document{body: body}, nil
}

// Body returns the decoded payload.
func (d *Document) Body() map[string]any {
	return d.body
}

// Record returns the ticket object inside the envelope.
func (d *Document) Record() (map[string]any, bool) {
	if d == nil || d.body == nil {
		return nil, false
	}
	record, ok := d.body[RecordKey].(map[string]any)
	if !ok || len(record) == 0 {
		return nil, false
	}
	return record, true
}

// ID returns the ticket identifier.
func (d *Document) ID() (int64, error) {
	record, ok := d.Record()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, RecordKey)
	}

	switch v := record[FieldID].(type) {
	case json.Number:
		id, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q", ErrMissingField, FieldID, v.String())
		}
		return id, nil
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q", ErrMissingField, FieldID, v)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrMissingField, FieldID)
	}
}

// UpdatedAt parses the ticket's update timestamp.
func (d *Document) UpdatedAt() (time.Time, error) {
	record, ok := d.Record()
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrMissingField, RecordKey)
	}

	raw, ok := record[FieldUpdatedAt].(string)
	if !ok || raw == "" {
		return time.Time{}, fmt.Errorf("%w: %s", ErrMissingField, FieldUpdatedAt)
	}
	return ParseTimestamp(raw)
}

// Validate checks that the document carries an id and a parseable update
// timestamp.
func (d *Document) Validate() error {
	if _, err := d.ID(); err != nil {
		return err
	}
	if _, err := d.UpdatedAt(); err != nil {
		return err
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.body)
}

// timestampLayouts are tried in order. RFC 3339 covers "Z" and numeric
// offsets with optional fractional seconds.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp. The calendar fields of the
// result are those of the timestamp's own offset; timestamps without an
// offset are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
}

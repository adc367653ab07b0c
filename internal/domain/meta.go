package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// MetaKind tags the variant held by a MetaValue.
type MetaKind string

const (
	MetaString MetaKind = "string"
	MetaNumber MetaKind = "number"
	MetaJSON   MetaKind = "json"
)

// MetaValue is a typed metadata value: a string, a number, or a JSON document.
type MetaValue struct {
	Kind MetaKind
	str  string
	num  float64
	doc  json.RawMessage
}

// StringValue wraps s.
func StringValue(s string) MetaValue { return MetaValue{Kind: MetaString, str: s} }

// NumberValue wraps f.
func NumberValue(f float64) MetaValue { return MetaValue{Kind: MetaNumber, num: f} }

// JSONValue marshals v into a JSON document value.
func JSONValue(v any) (MetaValue, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return MetaValue{}, fmt.Errorf("marshal meta value: %w", err)
	}
	return MetaValue{Kind: MetaJSON, doc: data}, nil
}

// String returns the string form of the value.
func (v MetaValue) String() string {
	switch v.Kind {
	case MetaNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case MetaJSON:
		return string(v.doc)
	default:
		return v.str
	}
}

// Number returns the numeric value and whether the value is a number.
func (v MetaValue) Number() (float64, bool) {
	if v.Kind != MetaNumber {
		return 0, false
	}
	return v.num, true
}

// Decode unmarshals a JSON document value into out.
func (v MetaValue) Decode(out any) error {
	if v.Kind != MetaJSON {
		return fmt.Errorf("%w: meta value is %s, not json", ErrInvalidInput, v.Kind)
	}
	return json.Unmarshal(v.doc, out)
}

// Encode serializes the value for storage as (kind, text).
func (v MetaValue) Encode() (string, string) {
	return string(v.Kind), v.String()
}

// DecodeMetaValue reverses Encode.
func DecodeMetaValue(kind, text string) (MetaValue, error) {
	switch MetaKind(kind) {
	case MetaString, "":
		return StringValue(text), nil
	case MetaNumber:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return MetaValue{}, fmt.Errorf("decode number meta value %q: %w", text, err)
		}
		return NumberValue(f), nil
	case MetaJSON:
		if !json.Valid([]byte(text)) {
			return MetaValue{}, fmt.Errorf("decode json meta value: invalid document")
		}
		return MetaValue{Kind: MetaJSON, doc: json.RawMessage(text)}, nil
	default:
		return MetaValue{}, fmt.Errorf("unknown meta kind %q", kind)
	}
}

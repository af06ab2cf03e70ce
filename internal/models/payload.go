package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PayloadKind enumerates the closed set of value kinds an event payload may
// carry. Keeping the set closed makes dotted-path resolution safe without
// reflection.
type PayloadKind int

const (
	KindString PayloadKind = iota
	KindNumber
	KindBool
	KindStringList
)

// PayloadValue is one typed value in a trigger event payload or execution
// context.
type PayloadValue struct {
	Kind PayloadKind
	Str  string
	Num  float64
	Bool bool
	List []string
}

// StringValue wraps a string payload value
func StringValue(s string) PayloadValue {
	return PayloadValue{Kind: KindString, Str: s}
}

// NumberValue wraps a numeric payload value
func NumberValue(f float64) PayloadValue {
	return PayloadValue{Kind: KindNumber, Num: f}
}

// BoolValue wraps a boolean payload value
func BoolValue(b bool) PayloadValue {
	return PayloadValue{Kind: KindBool, Bool: b}
}

// StringListValue wraps a string-list payload value
func StringListValue(items ...string) PayloadValue {
	return PayloadValue{Kind: KindStringList, List: items}
}

// String renders the value for template substitution.
func (v PayloadValue) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindStringList:
		return strings.Join(v.List, ",")
	}
	return ""
}

// AsNumber returns the value as a float64 where possible: numbers directly,
// strings when they parse, booleans as 0/1.
func (v PayloadValue) AsNumber() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// MarshalJSON renders the native JSON form of the value.
func (v PayloadValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		return json.Marshal(v.Num)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindStringList:
		return json.Marshal(v.List)
	}
	return nil, fmt.Errorf("unknown payload kind %d", v.Kind)
}

// PayloadMap is a schema-free event payload with a closed set of value
// kinds. Nested JSON objects are flattened into dotted keys on unmarshal
// ("contact": {"email": ...} becomes "contact.email"), which is what makes
// dotted-path field resolution a plain map lookup.
type PayloadMap map[string]PayloadValue

// Resolve looks up a dotted-path field. Missing fields return ok=false and
// never an error: the engine must tolerate partial payloads.
func (p PayloadMap) Resolve(path string) (PayloadValue, bool) {
	v, ok := p[path]
	return v, ok
}

// UnmarshalJSON decodes arbitrary JSON into the closed value set, flattening
// nested objects into dotted keys. Values outside the closed set (mixed
// arrays, nulls) are dropped rather than failing the whole event.
func (p *PayloadMap) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(PayloadMap, len(raw))
	flattenInto(out, "", raw)
	*p = out
	return nil
}

// MarshalJSON renders the flat dotted-key form.
func (p PayloadMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]PayloadValue, len(p))
	for k, v := range p {
		out[k] = v
	}
	return json.Marshal(out)
}

// PayloadFromMap converts a decoded JSON map into a PayloadMap, flattening
// nested objects.
func PayloadFromMap(raw map[string]interface{}) PayloadMap {
	out := make(PayloadMap, len(raw))
	flattenInto(out, "", raw)
	return out
}

func flattenInto(out PayloadMap, prefix string, raw map[string]interface{}) {
	for k, v := range raw {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case string:
			out[key] = StringValue(val)
		case float64:
			out[key] = NumberValue(val)
		case int:
			out[key] = NumberValue(float64(val))
		case int64:
			out[key] = NumberValue(float64(val))
		case bool:
			out[key] = BoolValue(val)
		case []interface{}:
			list := make([]string, 0, len(val))
			ok := true
			for _, item := range val {
				s, isStr := item.(string)
				if !isStr {
					ok = false
					break
				}
				list = append(list, s)
			}
			if ok {
				out[key] = StringListValue(list...)
			}
		case map[string]interface{}:
			flattenInto(out, key, val)
		}
	}
}

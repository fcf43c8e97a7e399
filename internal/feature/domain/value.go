package domain

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
)

// UnlimitedLimit is the sentinel limit meaning "no cap".
const UnlimitedLimit int64 = -1

// Value is a feature value tagged with the kind of feature it belongs to.
// The zero Value is "unset" and is stored as NULL.
type Value struct {
	kind    FeatureType
	enabled bool
	limit   int64
}

func BoolValue(enabled bool) Value {
	return Value{kind: FeatureTypeBoolean, enabled: enabled}
}

func LimitValue(limit int64) Value {
	return Value{kind: FeatureTypeLimit, limit: limit}
}

func UnlimitedValue() Value {
	return LimitValue(UnlimitedLimit)
}

func (v Value) Kind() FeatureType { return v.kind }

func (v Value) IsSet() bool { return v.kind != "" }

// AsBool reports the flag for boolean values; ok is false for any other kind.
func (v Value) AsBool() (enabled bool, ok bool) {
	return v.enabled, v.kind == FeatureTypeBoolean
}

// AsLimit reports the cap for limit values; ok is false for any other kind.
func (v Value) AsLimit() (limit int64, ok bool) {
	return v.limit, v.kind == FeatureTypeLimit
}

func (v Value) IsUnlimited() bool {
	return v.kind == FeatureTypeLimit && v.limit == UnlimitedLimit
}

// Matches reports whether v is a valid value for a feature of type t.
func (v Value) Matches(t FeatureType) bool {
	return v.IsSet() && v.kind == t
}

// Validate rejects negative limits other than the unlimited sentinel.
func (v Value) Validate() error {
	switch v.kind {
	case FeatureTypeBoolean:
		return nil
	case FeatureTypeLimit:
		if v.limit < UnlimitedLimit {
			return ErrInvalidValue
		}
		return nil
	default:
		return ErrInvalidValue
	}
}

func (v Value) Equal(other Value) bool {
	return v == other
}

func (v Value) String() string {
	switch v.kind {
	case FeatureTypeBoolean:
		return strconv.FormatBool(v.enabled)
	case FeatureTypeLimit:
		if v.limit == UnlimitedLimit {
			return "unlimited"
		}
		return strconv.FormatInt(v.limit, 10)
	default:
		return "unset"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case FeatureTypeBoolean:
		return []byte(strconv.FormatBool(v.enabled)), nil
	case FeatureTypeLimit:
		return []byte(strconv.FormatInt(v.limit, 10)), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts true/false for boolean values and whole numbers for limits.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := parseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Scan reads the JSON scalar stored in a text column.
func (v *Value) Scan(src any) error {
	switch typed := src.(type) {
	case nil:
		*v = Value{}
		return nil
	case []byte:
		return v.UnmarshalJSON(typed)
	case string:
		return v.UnmarshalJSON([]byte(typed))
	case bool:
		*v = BoolValue(typed)
		return nil
	case int64:
		*v = LimitValue(typed)
		return nil
	default:
		return fmt.Errorf("unsupported feature value type %T", src)
	}
}

func (v Value) Value() (driver.Value, error) {
	if !v.IsSet() {
		return nil, nil
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (Value) GormDataType() string {
	return "text"
}

func parseValue(data []byte) (Value, error) {
	trimmed := bytes.TrimSpace(data)
	switch string(trimmed) {
	case "", "null":
		return Value{}, nil
	case "true":
		return BoolValue(true), nil
	case "false":
		return BoolValue(false), nil
	}

	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return Value{}, ErrInvalidValue
	}
	limit, err := number.Int64()
	if err != nil {
		return Value{}, ErrInvalidValue
	}
	return LimitValue(limit), nil
}

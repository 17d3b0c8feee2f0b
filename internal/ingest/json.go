package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"safezone/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.Fields, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

// ParseJSONMap flattens one level of nesting, so {"location":{"lat":1}}
// yields "lat".
func ParseJSONMap(obj map[string]any) *normalize.Fields {
	fields := &normalize.Fields{Values: map[string]string{}}
	for key, val := range obj {
		key = strings.ToLower(key)
		if nested, ok := val.(map[string]any); ok {
			for k, v := range nested {
				fields.Values[strings.ToLower(k)] = scalar(v)
			}
			continue
		}
		fields.Values[key] = scalar(val)
	}
	return fields
}

func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

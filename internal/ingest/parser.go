package ingest

import (
	"errors"
	"regexp"
	"strings"

	"safezone/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+\-Z]+)`)
	reKV        = regexp.MustCompile(`([a-zA-Z_]+)=("[^"]*"|\S+)`)
)

// ParseLine accepts a JSON object or a "key=value" line with an optional
// leading timestamp, e.g. `2026-03-10T22:00:00Z type=sound label=Gunshot`.
func ParseLine(line string) (*normalize.Fields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if strings.HasPrefix(trim, "{") {
		fields, err := ParseJSONBytes([]byte(trim))
		if err != nil {
			return nil, err
		}
		fields.Raw = line
		return fields, nil
	}
	fields, err := parsePlain(trim)
	if err != nil {
		return nil, err
	}
	fields.Raw = line
	return fields, nil
}

func parsePlain(line string) (*normalize.Fields, error) {
	fields := &normalize.Fields{Values: map[string]string{}}
	if m := reTimestamp.FindStringSubmatch(line); len(m) == 2 {
		fields.Values["timestamp"] = strings.TrimSpace(m[1])
	}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		fields.Values[strings.ToLower(match[1])] = strings.Trim(match[2], `"`)
	}
	if len(fields.Values) == 0 {
		return nil, errors.New("no fields in line")
	}
	return fields, nil
}

package doc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseAssignments turns key=value arguments into a field map.
func ParseAssignments(args []string) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		fields[key] = v
	}
	return fields, nil
}

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Section data comes from YAML (typed scalars) or from the environment (strings),
// so every reader accepts both forms.

func stringValue(data map[string]any, key string) (string, bool) {
	v, ok := data[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	default:
		return fmt.Sprint(t), true
	}
}

func boolValue(data map[string]any, key string) (bool, bool, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return false, false, nil
	}
	switch t := v.(type) {
	case bool:
		return t, true, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, false, fmt.Errorf("%s: invalid boolean %q", key, t)
		}
		return b, true, nil
	}
	return false, false, fmt.Errorf("%s: expected boolean, got %T", key, v)
}

func intValue(data map[string]any, key string) (int, bool, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch t := v.(type) {
	case int:
		return t, true, nil
	case int64:
		return int(t), true, nil
	case float64:
		return int(t), true, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false, fmt.Errorf("%s: invalid integer %q", key, t)
		}
		return n, true, nil
	}
	return 0, false, fmt.Errorf("%s: expected integer, got %T", key, v)
}

func floatValue(data map[string]any, key string) (float64, bool, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch t := v.(type) {
	case float64:
		return t, true, nil
	case int:
		return float64(t), true, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false, fmt.Errorf("%s: invalid number %q", key, t)
		}
		return f, true, nil
	}
	return 0, false, fmt.Errorf("%s: expected number, got %T", key, v)
}

// durationValue accepts Go duration strings ("30s") or integer seconds.
func durationValue(data map[string]any, key string) (time.Duration, bool, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch t := v.(type) {
	case time.Duration:
		return t, true, nil
	case int:
		return time.Duration(t) * time.Second, true, nil
	case float64:
		return time.Duration(t * float64(time.Second)), true, nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(t))
		if err != nil {
			return 0, false, fmt.Errorf("%s: invalid duration %q", key, t)
		}
		return d, true, nil
	}
	return 0, false, fmt.Errorf("%s: expected duration, got %T", key, v)
}

// stringSliceValue accepts a YAML sequence or a comma-separated string.
func stringSliceValue(data map[string]any, key string) ([]string, bool) {
	v, ok := data[key]
	if !ok || v == nil {
		return nil, false
	}
	var out []string
	switch t := v.(type) {
	case []string:
		out = append(out, t...)
	case []any:
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
	case string:
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	default:
		return nil, false
	}
	return out, true
}

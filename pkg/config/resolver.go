package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yanun0323/logs"
)

type layer struct {
	name   string
	lookup func(key string) (any, bool)
}

// resolver reads a key from the first layer that defines it.
type resolver struct {
	layers []layer
}

func (r resolver) value(key string) (any, string, bool) {
	for _, l := range r.layers {
		if v, ok := l.lookup(key); ok {
			return v, l.name, true
		}
	}
	return nil, "", false
}

func (r resolver) str(key, fallback string) string {
	v, _, ok := r.value(key)
	if !ok {
		return fallback
	}
	if s, isStr := v.(string); isStr {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(v)
}

// millis reads a millisecond count. An unparsable value falls back to the default.
func (r resolver) millis(key string, fallback time.Duration) time.Duration {
	v, from, ok := r.value(key)
	if !ok {
		return fallback
	}
	n, ok := number(v)
	if !ok {
		logs.Warnf("config %s from %s: %v is not a number, using %s", key, from, v, fallback)
		return fallback
	}
	return time.Duration(n * float64(time.Millisecond))
}

// boolean accepts true/false/1/0 in any case. Anything else falls back to the default.
func (r resolver) boolean(key string, fallback bool) bool {
	v, from, ok := r.value(key)
	if !ok {
		return fallback
	}
	b, ok := flag(v)
	if !ok {
		logs.Warnf("config %s from %s: %v is not a boolean, using %t", key, from, v, fallback)
		return fallback
	}
	return b
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func flag(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case float64:
		if b == 1 || b == 0 {
			return b == 1, true
		}
	case int:
		if b == 1 || b == 0 {
			return b == 1, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
	}
	return false, false
}

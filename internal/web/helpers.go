package web

import "strconv"

// ContextValue reads a typed value stored with Context.Set.
func ContextValue[T any](c Context, key any) T {
	if v, ok := c.Get(key).(T); ok {
		return v
	}
	var zero T
	return zero
}

// QueryDefault parses a typed query parameter. def is returned when the
// parameter is empty or does not parse.
func QueryDefault[T ~string | ~int | ~int64 | ~bool](c Context, name string, def T) T {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	if v, ok := convertParam[T](raw); ok {
		return v
	}
	return def
}

// QueryFlag reports whether a boolean query parameter is set to a true value.
func QueryFlag(c Context, name string) bool {
	return QueryDefault(c, name, false)
}

func convertParam[T ~string | ~int | ~int64 | ~bool](raw string) (T, bool) {
	var zero T
	switch any(zero).(type) {
	case string:
		return any(raw).(T), true
	case int:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return zero, false
		}
		return any(v).(T), true
	case int64:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return zero, false
		}
		return any(v).(T), true
	case bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return zero, false
		}
		return any(v).(T), true
	}
	return zero, false
}

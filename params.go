package m3api

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

const (
	listSeparator = "|"
	// unitSeparator replaces listSeparator when a value contains a pipe;
	// the joined string is then prefixed with it.
	unitSeparator = "\x1f"
)

// Set is an insertion-ordered collection of distinct values, sent like a
// list: "a|b|c".
type Set []string

// NewSet returns a Set of the given values with duplicates removed.
func NewSet(values ...string) Set {
	s := make(Set, 0, len(values))
	return s.Add(values...)
}

// Add returns the set with the values appended unless already present.
func (s Set) Add(values ...string) Set {
	for _, v := range values {
		if !s.Has(v) {
			s = append(s, v)
		}
	}
	return s
}

// Has reports whether v is in the set.
func (s Set) Has(v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}

// NormalizeParams converts params into the string form sent on the wire.
// false and nil values are dropped, true becomes "", numbers are written
// in decimal and lists are joined with "|" (or with U+001F, prefixed, if
// any element contains "|").
func NormalizeParams(params Params) map[string]string {
	out := make(map[string]string, len(params))
	for key, value := range params {
		if s, ok := normalizeValue(value); ok {
			out[key] = s
		}
	}
	return out
}

func normalizeValue(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case bool:
		if !v {
			return "", false
		}
		return "", true
	case string:
		return v, true
	case Set:
		return joinList([]string(v)), true
	case []string:
		return joinList(v), true
	case []any:
		elems := make([]string, 0, len(v))
		for _, e := range v {
			elems = append(elems, scalarString(e))
		}
		return joinList(elems), true
	case []int:
		elems := make([]string, len(v))
		for i, e := range v {
			elems[i] = strconv.Itoa(e)
		}
		return joinList(elems), true
	case []int64:
		elems := make([]string, len(v))
		for i, e := range v {
			elems[i] = strconv.FormatInt(e, 10)
		}
		return joinList(elems), true
	case []byte:
		return string(v), true
	default:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			elems := make([]string, rv.Len())
			for i := range elems {
				elems[i] = scalarString(rv.Index(i).Interface())
			}
			return joinList(elems), true
		}
		return scalarString(v), true
	}
}

func scalarString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func joinList(elems []string) string {
	for _, e := range elems {
		if strings.Contains(e, listSeparator) {
			return unitSeparator + strings.Join(elems, unitSeparator)
		}
	}
	return strings.Join(elems, listSeparator)
}

// mergeParams returns a new Params with the layers applied in order;
// later layers win.
func mergeParams(layers ...Params) Params {
	size := 0
	for _, l := range layers {
		size += len(l)
	}
	out := make(Params, size)
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}

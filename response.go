package m3api

import (
	"regexp"
	"sort"
)

// truncatedResultPattern matches the legacy text of the "truncatedresult"
// warning (the double space appears in some server versions).
var truncatedResultPattern = regexp.MustCompile(`^This result was truncated because it would otherwise  ?be larger than the limit of [0-9,]+ bytes$`)

// ResponseErrors returns the error objects of a response: the single
// "error" member wrapped in a list, the "errors" list, or nil.
func ResponseErrors(resp Response) []Object {
	if e, ok := resp["error"]; ok {
		if obj := toObject(e); obj != nil {
			return []Object{obj}
		}
		return []Object{{"code": "unknown", "info": e}}
	}
	if list, ok := resp["errors"].([]any); ok {
		return toObjects(list)
	}
	return nil
}

// ResponseWarnings returns the warning objects of a response. The legacy
// mapping shape {"module": {...}} is converted to a list with every
// warning tagged with its module; "main" is moved to the end.
func ResponseWarnings(resp Response) []Object {
	switch w := resp["warnings"].(type) {
	case []any:
		return toObjects(w)
	case map[string]any:
		modules := make([]string, 0, len(w))
		for module := range w {
			if module != "main" {
				modules = append(modules, module)
			}
		}
		// map order is random; keep the output stable
		sort.Strings(modules)
		if _, ok := w["main"]; ok {
			modules = append(modules, "main")
		}

		warnings := make([]Object, 0, len(modules))
		for _, module := range modules {
			warning := Object{"module": module}
			if obj := toObject(w[module]); obj != nil {
				for k, v := range obj {
					warning[k] = v
				}
				warning["module"] = module
			} else if s, ok := w[module].(string); ok {
				warning["*"] = s
			}
			warnings = append(warnings, warning)
		}
		return warnings
	default:
		return nil
	}
}

// IsTruncatedResultWarning reports whether a warning says that the result
// was truncated, by code or by the legacy message text.
func IsTruncatedResultWarning(warning Object) bool {
	if warning.Code() == "truncatedresult" {
		return true
	}
	for _, key := range []string{"*", "warnings"} {
		if s, ok := warning[key].(string); ok && truncatedResultPattern.MatchString(s) {
			return true
		}
	}
	return false
}

func hasErrorCode(errs []Object, code string) bool {
	for _, e := range errs {
		if e.Code() == code {
			return true
		}
	}
	return false
}

func toObject(v any) Object {
	switch o := v.(type) {
	case Object:
		return o
	case map[string]any:
		return Object(o)
	default:
		return nil
	}
}

func toObjects(list []any) []Object {
	out := make([]Object, 0, len(list))
	for _, v := range list {
		if obj := toObject(v); obj != nil {
			out = append(out, obj)
		}
	}
	return out
}

package validators

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
)

func queryValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

// ParseQueryInt reads an optional bounded integer; absent means def.
func ParseQueryInt(r *http.Request, key string, def, lo, hi int) (int, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, queryError(key, "must be an integer", nil)
	}
	if n < lo || n > hi {
		return 0, queryError(key, "out of range", map[string]any{"min": lo, "max": hi})
	}
	return n, nil
}

// ParseQueryEnum reads an optional value restricted to allowed. An empty
// result means the parameter was not given.
func ParseQueryEnum(r *http.Request, key string, allowed ...string) (string, error) {
	raw := strings.ToLower(queryValue(r, key))
	if raw == "" || slices.Contains(allowed, raw) {
		return raw, nil
	}
	return "", queryError(key, "unsupported value", map[string]any{"allowed": allowed})
}

func queryError(key, problem string, extra map[string]any) error {
	details := map[string]any{"field": key}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "query parameter "+key+" "+problem).WithDetails(details)
}

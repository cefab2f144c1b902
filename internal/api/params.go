package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// intParam reads an integer query parameter, returning def when it is absent.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

// listParam reads a comma-separated query parameter. Repeated parameters are
// merged and blanks dropped.
func listParam(r *http.Request, name string) []string {
	var out []string
	for _, raw := range r.URL.Query()[name] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// checkIDs rejects any non-empty value that is not a UUID.
func checkIDs(name string, ids ...string) error {
	for _, id := range ids {
		if id != "" && uuid.Validate(id) != nil {
			return fmt.Errorf("%s must be a UUID", name)
		}
	}
	return nil
}

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	apiContext "hookgate/internal/api/context"
	"hookgate/internal/pkg/errors"
)

// maxAdminBody caps admin request bodies.
const maxAdminBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return false
	}
	return true
}

func param(r *http.Request, name string) string {
	return apiContext.ParamsFrom(r.Context()).ByName(name)
}

func queryInt(r *http.Request, name string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// queryDate parses a YYYY-MM-DD parameter, falling back to def.
func queryDate(r *http.Request, name string, def time.Time) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
	return t, err == nil
}

// querySince reads a "since" unix timestamp or a "window" duration such as
// 15m or 24h.
func querySince(r *http.Request, now time.Time, def time.Duration) (int64, bool) {
	q := r.URL.Query()
	if raw := q.Get("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		return n, err == nil && n >= 0
	}
	window := def
	if raw := q.Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return 0, false
		}
		window = d
	}
	return now.Add(-window).Unix(), true
}

var nowFunc = time.Now

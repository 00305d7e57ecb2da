package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/store"
)

// writeJSON writes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes the error envelope. Context maps, if any, are merged in
// order.
func writeError(w http.ResponseWriter, code int, errType, message string, ctx ...map[string]interface{}) {
	detail := model.ErrorDetail{Code: code, Type: errType, Message: message}
	for _, m := range ctx {
		if detail.Context == nil {
			detail.Context = make(map[string]interface{}, len(m))
		}
		for k, v := range m {
			detail.Context[k] = v
		}
	}
	writeJSON(w, code, model.ErrorResponse{Error: detail})
}

// writeStoreError maps store errors to responses; anything unrecognised is a 500.
func writeStoreError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, model.ErrTypeNotFound, what+" not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, model.ErrTypeInvalidRequest, what+" already exists")
	default:
		writeError(w, http.StatusInternalServerError, model.ErrTypeInternal, "Failed to load "+what+": "+err.Error())
	}
}

// readJSON decodes a JSON request body into v. An empty body is reported as
// such rather than as a bare EOF.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	return nil
}

func queryString(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryFlag parses an optional boolean filter. ok is false when the parameter
// is absent or not a boolean, meaning "do not filter".
func queryFlag(r *http.Request, key string) (value, ok bool) {
	b, err := strconv.ParseBool(r.URL.Query().Get(key))
	if err != nil {
		return false, false
	}
	return b, true
}

// listLimit reads ?limit=, falling back to def and capping at max.
func listLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	switch {
	case err != nil || n < 1:
		return def
	case n > max:
		return max
	}
	return n
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

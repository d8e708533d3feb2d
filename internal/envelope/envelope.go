// Package envelope writes the {ok,data} / {ok:false,error} response shape
// every handler in the core returns, generalizing the teacher's writeJSON
// helper into the one response boundary.
package envelope

import (
	"encoding/json"
	"net/http"

	"mdplane/internal/apperr"
)

type errorBody struct {
	Code    apperr.Code    `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type okEnvelope struct {
	OK   bool `json:"ok"`
	Data any  `json:"data"`
}

type errEnvelope struct {
	OK    bool      `json:"ok"`
	Error errorBody `json:"error"`
}

// OK writes a 200 {ok:true,data} response. Use WriteStatus for other 2xx
// codes (201 Created, 202 Accepted).
func OK(w http.ResponseWriter, data any) {
	WriteStatus(w, http.StatusOK, data)
}

// WriteStatus writes {ok:true,data} at the given status.
func WriteStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(okEnvelope{OK: true, Data: data})
}

// Fail writes {ok:false,error} using err's mapped HTTP status.
func Fail(w http.ResponseWriter, err error) {
	ae := apperr.As(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.Status())
	_ = json.NewEncoder(w).Encode(errEnvelope{
		OK: false,
		Error: errorBody{
			Code:    ae.Code,
			Message: ae.Message,
			Details: ae.Details,
		},
	})
}

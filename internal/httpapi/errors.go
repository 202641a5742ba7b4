package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/orneryd/registry/internal/rerrors"
)

type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// WriteError maps err onto the registry error taxonomy's HTTP status and
// writes a {error:{kind,message}} JSON body.
func WriteError(w http.ResponseWriter, err error) {
	re := rerrors.As(err)
	body := errorBody{}
	body.Error.Kind = string(re.Kind)
	body.Error.Message = re.Message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(re.Kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(body)
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

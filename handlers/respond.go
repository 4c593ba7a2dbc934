package handlers

import (
	"encoding/json"
	"net/http"

	"consy/apperr"
	"consy/middleware"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError answers with the status and message for err's kind. The
// services log store failures, so nothing is logged here.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(apperr.KindOf(err)), map[string]interface{}{
		"success": false,
		"message": apperr.Message(err),
	})
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.InvalidInput, "Invalid request body", err)
	}
	return nil
}

// authorize checks that the acting user named in the request is the
// authenticated caller. Unauthenticated requests pass when the identity
// middleware is disabled.
func authorize(r *http.Request, actorID string) error {
	subject := middleware.GetUserFromContext(r)
	if subject == "" || actorID == "" {
		return nil
	}
	if subject != actorID {
		return apperr.New(apperr.Forbidden, "Forbidden")
	}
	return nil
}

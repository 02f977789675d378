package server

import (
	"encoding/json"
	"net/http"

	"github.com/webpods-org/webpods/pkg/errdefs"
	"github.com/webpods-org/webpods/pkg/log"
)

// writeJSON emits a JSON body with the given status
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Logger.Debug().Err(err).Msg("response encode failed")
	}
}

// writeError emits the error envelope with the status its code maps to
func writeError(w http.ResponseWriter, err error) {
	envelope := errdefs.AsEnvelope(err)
	writeJSON(w, errdefs.HTTPStatus(envelope.Err.Code), envelope)
}

// writeErrorStatus emits the envelope with an explicit status, for the few
// places the default code mapping does not fit (reserved path stubs).
func writeErrorStatus(w http.ResponseWriter, status int, code errdefs.Code, message string) {
	writeJSON(w, status, &errdefs.Envelope{Err: errdefs.New(code, message)})
}

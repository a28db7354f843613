package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/badgelink/internal/badge"
	"github.com/nerrad567/badgelink/internal/peripheral"
)

// Error is the JSON body of every error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeInternal     = "internal_error"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeNotConnected = "not_connected"
	ErrCodeUnavailable  = "unavailable"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // client may have gone away
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeClonerError maps a bridge error to an HTTP response.
//
//	ErrNotConnected    409 not_connected
//	discovery          502 discovery_error
//	connection         502 connection_error
//	transfer           502 transfer_error
//	storage            500 storage_error
//	ErrEmptyCode       400 bad_request
func writeClonerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, badge.ErrEmptyCode):
		writeBadRequest(w, err.Error())
		return
	case errors.Is(err, peripheral.ErrNotConnected):
		writeError(w, http.StatusConflict, ErrCodeNotConnected, "cloner is not connected")
		return
	}

	kind := peripheral.KindOf(err)
	switch kind {
	case peripheral.KindDiscovery, peripheral.KindConnection, peripheral.KindTransfer:
		writeError(w, http.StatusBadGateway, kind.String(), err.Error())
	case peripheral.KindStorage:
		writeError(w, http.StatusInternalServerError, kind.String(), "badge storage failed")
	default:
		writeInternalError(w, err.Error())
	}
}

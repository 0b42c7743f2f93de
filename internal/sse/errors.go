// ABOUTME: Error taxonomy and JSON failure bodies for the streaming transport.
// ABOUTME: Sentinels are wrapped with context and matched with errors.Is.

package sse

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	// ErrConnectionSetup means a session could not be established.
	ErrConnectionSetup = errors.New("connection setup failed")

	// ErrMissingCorrelation means an inbound message carried no session ID.
	ErrMissingCorrelation = errors.New("no sessionId provided in request")

	// ErrUnknownSession means the session ID does not resolve to a live session.
	ErrUnknownSession = errors.New("no transport found for sessionId")

	// ErrMessageProcessing means the session's protocol handler failed.
	ErrMessageProcessing = errors.New("message processing failed")
)

// Messages returned to callers. These are part of the wire contract.
const (
	msgMissingSession   = "No sessionId provided in request"
	msgUnknownSession   = "No transport found for sessionId"
	msgInvalidMessage   = "Invalid message"
	msgMessageTooLarge  = "Message too large"
	msgProcessingFailed = "Failed to process message"
)

// FailureResponse is the JSON body of every failed correlated request.
type FailureResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func writeFailure(w http.ResponseWriter, status int, message string, err error) {
	resp := FailureResponse{Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

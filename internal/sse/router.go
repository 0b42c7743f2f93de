// ABOUTME: Message router delivering correlated POST bodies to the addressed session.
// ABOUTME: Maps routing failures onto the transport's status codes and JSON bodies.

package sse

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/2389/mcphub/internal/metrics"
	"github.com/2389/mcphub/internal/session"
)

// ServeMessage handles POST <message path>?sessionId=<token>.
func (h *Handler) ServeMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID, err := gonanoid.New()
	if err != nil {
		requestID = "unknown"
	}
	logger := h.logger.With("request_id", requestID)

	sess, err := h.resolve(r.URL.Query().Get("sessionId"))
	switch {
	case errors.Is(err, ErrMissingCorrelation):
		h.recorder.MessageRouted(metrics.OutcomeMissingSession)
		logger.Warn("message without session id", "remote_addr", r.RemoteAddr)
		writeFailure(w, http.StatusBadRequest, msgMissingSession, nil)
		return
	case errors.Is(err, ErrUnknownSession):
		h.recorder.MessageRouted(metrics.OutcomeUnknownSession)
		logger.Warn("message for unknown session", "error", err)
		writeFailure(w, http.StatusBadRequest, msgUnknownSession, nil)
		return
	}
	logger = logger.With("session_id", sess.ID())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxMessageSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.recorder.MessageRouted(metrics.OutcomeInvalidPayload)
			logger.Warn("message too large", "limit", tooLarge.Limit)
			writeFailure(w, http.StatusRequestEntityTooLarge, msgMessageTooLarge, nil)
			return
		}
		h.recorder.MessageRouted(metrics.OutcomeInvalidPayload)
		logger.Warn("failed to read message body", "error", err)
		writeFailure(w, http.StatusBadRequest, msgInvalidMessage, err)
		return
	}

	result, err := sess.Handler().HandleMessage(r.Context(), body)
	if err != nil {
		if errors.Is(err, session.ErrInvalidPayload) {
			h.recorder.MessageRouted(metrics.OutcomeInvalidPayload)
			logger.Warn("invalid message", "error", err)
			writeFailure(w, http.StatusBadRequest, msgInvalidMessage, err)
			return
		}
		h.recorder.MessageRouted(metrics.OutcomeProcessingFailure)
		logger.Error("error handling message", "error", fmt.Errorf("%w: %w", ErrMessageProcessing, err))
		writeFailure(w, http.StatusInternalServerError, msgProcessingFailed, err)
		return
	}

	h.recorder.MessageRouted(metrics.OutcomeAccepted)
	logger.Debug("message delivered", "bytes", len(body))

	if result == nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "Accepted")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result)
}

// resolve maps a wire token to a live session with a bound handler. A
// session still being set up has no handler, and one whose stream has closed
// is on its way out; both are treated as unknown.
func (h *Handler) resolve(token string) (*session.Session, error) {
	if token == "" {
		return nil, ErrMissingCorrelation
	}
	id, err := session.ParseID(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingCorrelation, err)
	}
	sess, ok := h.registry.Get(id)
	if !ok || sess.Handler() == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, token)
	}
	if sess.Stream().Closed() {
		h.registry.Remove(id)
		return nil, fmt.Errorf("%w: %s: stream closed", ErrUnknownSession, token)
	}
	return sess, nil
}

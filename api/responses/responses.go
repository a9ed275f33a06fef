// Package responses writes the JSON envelopes every handler returns:
// {"data": ...} on success and {"error": {...}} on failure.
package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, SuccessEnvelope{Data: data})
}

// WriteError renders err with the status of its code. Errors without a code
// are reported as internal and their text never reaches the client.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("WriteError called without an error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "")
	}
	code := typed.Code()

	body := APIError{
		Code:    string(code),
		Message: code.PublicMessage(typed.Message()),
	}
	if code.ExposesDetails() {
		body.Details = typed.Details()
	}

	status := code.HTTPStatus()
	if logg != nil {
		ctx = logg.WithFields(ctx, pkgerrors.LogFields(err))
		ctx = logg.WithField(ctx, "status", status)
		if status >= http.StatusInternalServerError {
			logg.Error(ctx, "request failed", err)
		} else {
			logg.Debug(logg.WithField(ctx, "error", err.Error()), "request rejected")
		}
	}
	writeJSON(w, status, ErrorEnvelope{Error: body})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Int("status", status).Msg("encode response")
	}
}

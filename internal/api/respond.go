package api

import (
	"encoding/json"
	"net/http"

	"advertiser-onboarding/internal/common/errors"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Code      string              `json:"code"`
	Message   string              `json:"message"`
	Fields    []errors.FieldError `json:"fields,omitempty"`
	Retryable bool                `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err with the advertiser-facing message only; details stay in
// the logs.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	stdErr := errors.Normalize(err)
	status := statusFor(stdErr.Code)

	fields := map[string]interface{}{
		"path":  r.URL.Path,
		"code":  stdErr.Code,
		"error": err.Error(),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", fields)
	} else {
		s.logger.Debug("Request rejected", fields)
	}

	writeJSON(w, status, map[string]errorBody{"error": {
		Code:      string(stdErr.Code),
		Message:   errors.UserMessage(stdErr),
		Fields:    stdErr.Fields,
		Retryable: stdErr.Retryable,
	}})
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeValidationFailed:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeAccountConflict, errors.ErrCodeRequestInFlight, errors.ErrCodeStepNotAdvanceable:
		return http.StatusConflict
	case errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrCodeNetwork, errors.ErrCodeExternalService:
		return http.StatusBadGateway
	case errors.ErrCodeProvider:
		return http.StatusPaymentRequired
	case errors.ErrCodeFlowNotFound, "RESOURCE_NOT_FOUND":
		return http.StatusNotFound
	case "INPUT_PARSING_FAILED":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		return &errors.StandardError{
			Code:    "INPUT_PARSING_FAILED",
			Message: "Request body is not valid JSON",
			Details: err.Error(),
		}
	}
	return nil
}

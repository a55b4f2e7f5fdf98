package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// retryAfterSeconds is sent with every retryable or unavailable response
const retryAfterSeconds = "1"

// ErrorResponse represents the API error response format
type ErrorResponse struct {
	Error     bool                   `json:"error"`
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Retryable bool                   `json:"retryable,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// codeLevels overrides the status-derived log level of tree errors
var codeLevels = map[string]zapcore.Level{
	CodeNodeNotFound:   zapcore.InfoLevel,
	CodeParentNotFound: zapcore.InfoLevel,
	CodeCycleDetected:  zapcore.InfoLevel,
	CodeLockTimeout:    zapcore.WarnLevel,
	CodeTreeChanged:    zapcore.WarnLevel,
	CodeStoreFailure:   zapcore.ErrorLevel,
	CodeTreeCorrupt:    zapcore.ErrorLevel,
}

// ErrorHandler renders errors as JSON responses and logs them
type ErrorHandler struct {
	logger *zap.Logger
	debug  bool
}

// NewErrorHandler creates a new error handler. In debug mode unexpected
// errors and stack traces are included in responses.
func NewErrorHandler(logger *zap.Logger, debug bool) *ErrorHandler {
	return &ErrorHandler{logger: logger, debug: debug}
}

// Handle writes the response for err. Errors that are not AppErrors are
// reported as internal errors without their text, unless in debug mode.
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	appErr := GetAppError(err)
	if appErr == nil {
		h.logger.Error("Unhandled error", append(requestFields(r), zap.Error(err))...)
		message := "An internal error occurred"
		if h.debug {
			message = err.Error()
		}
		h.write(w, http.StatusInternalServerError, ErrorResponse{
			Error:     true,
			Type:      string(ErrorTypeInternal),
			Message:   message,
			RequestID: requestIDFrom(r),
		})
		return
	}

	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	h.log(r, appErr, status)

	if appErr.Retryable || status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	h.write(w, status, h.response(r, appErr))
}

// HandleStatus sends an error response with a specific status code
func (h *ErrorHandler) HandleStatus(w http.ResponseWriter, r *http.Request, status int, message string) {
	if ce := h.logger.Check(levelForStatus(status), message); ce != nil {
		ce.Write(append(requestFields(r), zap.Int("status", status))...)
	}
	h.write(w, status, ErrorResponse{
		Error:     true,
		Type:      typeForStatus(status),
		Message:   message,
		RequestID: requestIDFrom(r),
	})
}

// Middleware turns panics of later handlers into internal error responses.
// http.ErrAbortHandler is passed on so the server can abort the connection.
func (h *ErrorHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			h.logger.Error("Recovered from panic", append(requestFields(r), zap.Any("panic", rec), zap.Stack("stack"))...)
			h.Handle(w, r, NewInternalError(fmt.Sprintf("panic: %v", rec)))
		}()

		next.ServeHTTP(w, r)
	})
}

func (h *ErrorHandler) response(r *http.Request, err *AppError) ErrorResponse {
	resp := ErrorResponse{
		Error:     true,
		Type:      string(err.Type),
		Message:   err.Message,
		Code:      err.Code,
		Retryable: err.Retryable,
		Details:   err.Details,
		RequestID: requestIDFrom(r),
	}
	if h.debug && err.StackTrace != "" {
		details := make(map[string]interface{}, len(err.Details)+1)
		for k, v := range err.Details {
			details[k] = v
		}
		details["stack_trace"] = err.StackTrace
		resp.Details = details
	}
	return resp
}

func (h *ErrorHandler) log(r *http.Request, err *AppError, status int) {
	level, ok := codeLevels[err.Code]
	if !ok {
		level = levelForStatus(status)
	}
	ce := h.logger.Check(level, err.Message)
	if ce == nil {
		return
	}

	fields := append(requestFields(r),
		zap.Int("status", status),
		zap.String("error_type", string(err.Type)),
	)
	if err.Code != "" {
		fields = append(fields, zap.String("error_code", err.Code))
	}
	if err.Retryable {
		fields = append(fields, zap.Bool("retryable", true))
	}
	for _, key := range []string{"node_id", "parent_id"} {
		if v, ok := err.Details[key].(string); ok {
			fields = append(fields, zap.String(key, v))
		}
	}
	if err.Cause != nil {
		fields = append(fields, zap.Error(err.Cause))
	}
	ce.Write(fields...)
}

func (h *ErrorHandler) write(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode error response", zap.Error(err))
	}
}

func requestFields(r *http.Request) []zap.Field {
	return []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestIDFrom(r)),
	}
}

func requestIDFrom(r *http.Request) string {
	if id := chimiddleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get("X-Request-ID")
}

func levelForStatus(status int) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func typeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return string(ErrorTypeValidation)
	case http.StatusNotFound:
		return string(ErrorTypeNotFound)
	case http.StatusConflict:
		return string(ErrorTypeConflict)
	case http.StatusServiceUnavailable:
		return string(ErrorTypeUnavailable)
	case http.StatusBadGateway:
		return string(ErrorTypeExternal)
	default:
		return string(ErrorTypeInternal)
	}
}

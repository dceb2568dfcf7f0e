package middlewares

import (
	"context"
	"log/slog"
	"net/http"

	common "github.com/frontierwars/session-engine/pkg/domain"
)

// ErrorMiddleware is grounded verbatim-in-shape on the teacher's error middleware: it
// wraps the response writer so a handler that stashes an error in the request
// context (via common.SetError) or merely sets an error status without writing a
// body still gets a structured JSON error response, exactly once.
func ErrorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &errorResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		if err := common.GetError(r.Context()); err != nil && !rw.headerWritten {
			slog.ErrorContext(r.Context(), "handling context error", "error", err)
			apiErr, ok := err.(*common.APIError)
			if !ok {
				apiErr = common.ErrorFromString(err)
			}
			rw.writeErrorResponse(apiErr)
			return
		}

		if ctxErr := r.Context().Err(); ctxErr != nil && !rw.headerWritten {
			slog.ErrorContext(r.Context(), "request context error", "error", ctxErr)
			var apiErr *common.APIError
			switch ctxErr {
			case context.Canceled:
				apiErr = common.NewAPIError(http.StatusRequestTimeout, "REQUEST_CANCELLED", "request was cancelled")
			case context.DeadlineExceeded:
				apiErr = common.NewAPIError(http.StatusRequestTimeout, "REQUEST_TIMEOUT", "request timeout")
			default:
				apiErr = common.NewAPIError(http.StatusInternalServerError, "CONTEXT_ERROR", ctxErr.Error())
			}
			rw.writeErrorResponse(apiErr)
			return
		}

		if rw.statusCode >= 400 && !rw.headerWritten {
			slog.ErrorContext(r.Context(), "error status without response body", "status", rw.statusCode)
			rw.writeErrorResponse(common.NewAPIError(rw.statusCode, "ERROR", http.StatusText(rw.statusCode)))
		}
	})
}

type errorResponseWriter struct {
	http.ResponseWriter
	statusCode    int
	headerWritten bool
}

func (rw *errorResponseWriter) WriteHeader(statusCode int) {
	if !rw.headerWritten {
		rw.statusCode = statusCode
		rw.headerWritten = true
		rw.ResponseWriter.WriteHeader(statusCode)
	}
}

func (rw *errorResponseWriter) Write(data []byte) (int, error) {
	if !rw.headerWritten {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(data)
}

func (rw *errorResponseWriter) writeErrorResponse(apiErr *common.APIError) {
	if rw.headerWritten {
		return
	}
	if err := common.WriteErrorResponse(rw.ResponseWriter, apiErr); err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}

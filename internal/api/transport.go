package api

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/eternisai/marketplace-sync/internal/logger"
)

// maxLoggedBody caps how much of an error response body is logged.
const maxLoggedBody = 512

// LoggingTransport logs every REST round trip at debug level. Error response
// bodies are logged too, truncated; the Authorization header never is.
type LoggingTransport struct {
	Transport http.RoundTripper
	Logger    *logger.Logger
}

// NewLoggingTransport wraps http.DefaultTransport.
func NewLoggingTransport(log *logger.Logger) *LoggingTransport {
	return &LoggingTransport{
		Transport: http.DefaultTransport,
		Logger:    log,
	}
}

func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := t.Logger.WithContext(req.Context())

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		log.Debug("api request failed",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, err
	}

	attrs := []any{
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	}

	if resp.StatusCode >= 400 && resp.Body != nil {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		resp.Body.Close() //nolint:errcheck
		if readErr == nil {
			logged := bodyBytes
			if len(logged) > maxLoggedBody {
				logged = logged[:maxLoggedBody]
			}
			attrs = append(attrs, slog.String("body", string(logged)))
		}
		// Restore body for caller
		resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	log.Debug("api request", attrs...)
	return resp, nil
}

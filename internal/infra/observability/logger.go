package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName tags every log line and trace of the process.
const ServiceName = "viralboost-wallet-bfa"

// NewLogger creates the service logger. level is a zap level name and falls
// back to info when unknown. debug switches to a colorized console encoder.
func NewLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]any{"service": ServiceName}
	if lvl == zapcore.DebugLevel {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	return logger
}

// probePaths are polled by infrastructure.
var probePaths = map[string]bool{
	"/ping":    true,
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// accessLevel picks the level of one access log line. Guard rejections (422)
// and busy submissions (409) are normal wallet traffic and stay at info.
func accessLevel(path string, status int) zapcore.Level {
	switch {
	case probePaths[path] && status < 400:
		return zapcore.DebugLevel
	case status >= 500:
		return zapcore.ErrorLevel
	case status == http.StatusConflict, status == http.StatusUnprocessableEntity:
		return zapcore.InfoLevel
	case status >= 400:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// AccessLog logs one line per request with the matched chi route, so
// membership ids do not blow up the path cardinality.
func AccessLog(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				route := r.URL.Path
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					route = rctx.RoutePattern()
				}

				if ce := logger.Check(accessLevel(r.URL.Path, status), "http request"); ce != nil {
					ce.Write(
						zap.String("method", r.Method),
						zap.String("route", route),
						zap.Int("status", status),
						zap.Int("bytes", ww.BytesWritten()),
						zap.Duration("latency", time.Since(start)),
						zap.String("request_id", middleware.GetReqID(r.Context())),
					)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// TracingMiddleware continues the caller's trace, if it sent one.
func TracingMiddleware(next http.Handler) http.Handler {
	propagator := otel.GetTextMapPropagator()
	if propagator == nil {
		propagator = propagation.TraceContext{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

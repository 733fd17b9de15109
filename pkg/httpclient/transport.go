package httpclient

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tombee/courier/pkg/httpclient"

// loggingTransport wraps an http.RoundTripper to add:
// - A client span per request
// - Request logging with sanitized URLs
// - User-Agent header injection
// - W3C trace context propagation
type loggingTransport struct {
	base      http.RoundTripper
	userAgent string
	logger    *slog.Logger
	tracer    trace.Tracer
}

func newLoggingTransport(base http.RoundTripper, userAgent string, logger *slog.Logger, tp trace.TracerProvider) *loggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &loggingTransport{
		base:      base,
		userAgent: userAgent,
		logger:    logger,
		tracer:    tp.Tracer(tracerName),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	logURL := sanitizeURL(req.URL)

	ctx, span := t.tracer.Start(req.Context(), "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", logURL),
		),
	)
	defer span.End()

	// RoundTrippers must not modify the caller's request.
	req = req.Clone(ctx)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.logger.WarnContext(ctx, "http request failed",
			"method", req.Method,
			"url", logURL,
			"duration_ms", duration,
			"error", err.Error(),
		)
		return resp, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	level := slog.LevelDebug
	if resp.StatusCode >= 400 {
		level = slog.LevelWarn
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	t.logger.Log(ctx, level, "http request",
		"method", req.Method,
		"url", logURL,
		"status", resp.StatusCode,
		"duration_ms", duration,
	)
	return resp, nil
}

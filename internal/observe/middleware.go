package observe

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// quietPaths answer orchestrator probes and scrapes; successful hits are
// logged at debug.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// Middleware instruments every request passing through next:
//
//   - incoming W3C trace context is continued, otherwise a trace is started;
//   - the server span is renamed to the matched [http.ServeMux] pattern once
//     routing is done, and marked as failed on 5xx;
//   - the trace id is returned in X-Correlation-ID;
//   - versecatch.http.request.duration is recorded per method, route and
//     status;
//   - one "request completed" line is logged.
//
// The WebSocket route is mounted outside this middleware: its request lasts
// as long as the connection.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := beginRequest(prop, w, r)
			defer req.span.End()

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, req.r)
			req.finish(m, sw.status)
		})
	}
}

// observedRequest carries the per-request telemetry state.
type observedRequest struct {
	r     *http.Request
	span  trace.Span
	cid   string
	start time.Time
}

func beginRequest(prop propagation.TextMapPropagator, w http.ResponseWriter, r *http.Request) *observedRequest {
	start := time.Now()
	ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)

	cid := CorrelationID(ctx)
	if cid != "" {
		w.Header().Set("X-Correlation-ID", cid)
	}
	prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	return &observedRequest{r: r.WithContext(ctx), span: span, cid: cid, start: start}
}

// route is the pattern the mux matched (method prefix included), or the raw
// "METHOD /path" when nothing was matched.
func (o *observedRequest) route() string {
	if p := o.r.Pattern; p != "" {
		if !strings.Contains(p, " ") {
			return o.r.Method + " " + p
		}
		return p
	}
	return o.r.Method + " " + o.r.URL.Path
}

func (o *observedRequest) finish(m *Metrics, status int) {
	ctx := o.r.Context()
	elapsed := time.Since(o.start)
	route := o.route()

	o.span.SetName("HTTP " + route)
	o.span.SetAttributes(
		semconv.HTTPRoute(route),
		semconv.HTTPResponseStatusCode(status),
	)
	if status >= http.StatusInternalServerError {
		o.span.SetStatus(codes.Error, http.StatusText(status))
	}

	m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("method", o.r.Method),
		attribute.String("path", route),
		attribute.Int("status", status),
	))

	level := slog.LevelInfo
	if status < http.StatusBadRequest && quietPaths[o.r.URL.Path] {
		level = slog.LevelDebug
	}
	slog.LogAttrs(ctx, level, "request completed",
		slog.String("trace_id", o.cid),
		slog.String("route", route),
		slog.String("path", o.r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", elapsed),
	)
}

// statusWriter remembers the status code sent by the handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets [http.ResponseController] reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

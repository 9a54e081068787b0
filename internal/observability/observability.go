package observability

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/Upreak/Upjobv1-sub001/internal/access"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	otelmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var (
	requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total requests by service, route, method, and status.",
		},
		[]string{"service", "route", "method", "status"},
	)
)

func init() { prometheus.MustRegister(requestCounter) }

// Setup installs the global tracer and meter providers. Traces are exported
// over OTLP/HTTP only when OTEL_EXPORTER_OTLP_ENDPOINT is set.
func Setup(ctx context.Context, serviceName string) (shutdown func(), promHandler http.Handler, tracer oteltrace.Tracer, err error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	promExporter, err := otelprom.New()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	meterProvider := otelmetric.NewMeterProvider(otelmetric.WithReader(promExporter))
	otel.SetMeterProvider(meterProvider)

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create otel resource: %w", err)
	}

	opts := []trace.TracerProviderOption{trace.WithResource(res)}
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		exp, err := otlptracehttp.New(ctx)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		opts = append(opts, trace.WithBatcher(exp))
	}
	tp := trace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	shutdown = func() {
		_ = tp.Shutdown(context.Background())
		_ = meterProvider.Shutdown(context.Background())
	}
	return shutdown, promhttp.Handler(), otel.Tracer(serviceName), nil
}

func MetricsAndTracingMiddleware(tracer oteltrace.Tracer, serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
			span.SetAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			)
			if rid := middleware.GetReqID(ctx); rid != "" {
				span.SetAttributes(attribute.String("http.request_id", rid))
			}
			w.Header().Set("Trace-ID", span.SpanContext().TraceID().String())

			next.ServeHTTP(rw, r.WithContext(ctx))

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			span.SetAttributes(attribute.Int("http.status_code", rw.status), attribute.String("http.route", route))
			requestCounter.WithLabelValues(serviceName, route, r.Method, strconv.Itoa(rw.status)).Inc()
			span.End()
		})
	}
}

// GateRecorder counts gate decisions by surface and reason. It is meant to
// be passed as the gate's OnDecision hook.
type GateRecorder struct {
	apiPrefix string
	counter   metric.Int64Counter
}

func NewGateRecorder(apiPrefix string) (*GateRecorder, error) {
	counter, err := otel.Meter("upjob/gate").Int64Counter(
		"gate_decisions",
		metric.WithDescription("Access decisions made by the request gate."),
	)
	if err != nil {
		return nil, err
	}
	return &GateRecorder{apiPrefix: strings.TrimRight(apiPrefix, "/"), counter: counter}, nil
}

func (g *GateRecorder) Record(r *http.Request, d access.Decision) {
	surface := "page"
	if p := r.URL.Path; p == g.apiPrefix || strings.HasPrefix(p, g.apiPrefix+"/") {
		surface = "api"
	}
	g.counter.Add(r.Context(), 1, metric.WithAttributes(
		attribute.String("surface", surface),
		attribute.String("reason", string(d.Reason)),
		attribute.String("rule", d.Rule.Prefix),
		attribute.Bool("allowed", d.Allowed),
	))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Package otel provides OpenTelemetry tracing and metrics for exchanges of the HTTP transport.
//
// The package provides 2 levels of telemetry:
//
// 1. Exchange telemetry
//   - It provides span and metrics for each exchange started by the transport Send method.
//   - Root span "keboola.go.demand.exchange" wraps all redirects together.
//   - An aborted exchange ends the root span with an error status.
//   - Metrics names start with "keboola.go.demand." (exchangeMeterPrefix const).
//
// 2. Low-level telemetry
//   - It provides span and metrics for every sent HTTP request, including redirects.
//   - Span name is "http.request", parts of the request are tracked by "http.dns", "http.tls", ... spans.
//   - Metrics names start with "keboola.go.http." (httpMeterPrefix const).
//
// For full list of metrics see the allMeters struct.
package otel

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelMetric "go.opentelemetry.io/otel/metric"
	metricNoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	otelTrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/keboola/go-demand/pkg/transport/trace"
)

const (
	traceAppName = "github.com/keboola/go-demand"
	// Low-level tracing, for each redirect.
	httpSpanPrefix           = "http."
	httpRequestSpanName      = httpSpanPrefix + "request"
	httpDNSSpanName          = httpSpanPrefix + "dns"
	httpGetConnSpanName      = httpSpanPrefix + "getconn"
	httpConnectSpanName      = httpSpanPrefix + "connect"
	httpTLSHandshakeSpanName = httpSpanPrefix + "tls"
	httpSendSpanName         = httpSpanPrefix + "send"
	httpReceiveSpanName      = httpSpanPrefix + "receive"
	// Exchange tracing.
	exchangeSpanName = "keboola.go.demand.exchange"
)

// errAborted is recorded to the exchange span, if the exchange has been aborted.
var errAborted = errors.New("exchange aborted")

// NewTrace creates a trace factory reporting spans and metrics of each exchange.
func NewTrace(tracerProvider otelTrace.TracerProvider, meterProvider otelMetric.MeterProvider, opts ...Option) trace.Factory {
	cfg := newConfig(opts)
	if tracerProvider == nil {
		tracerProvider = noop.NewTracerProvider()
	}
	if meterProvider == nil {
		meterProvider = metricNoop.NewMeterProvider()
	}
	tracer := tracerProvider.Tracer(traceAppName)
	meters := newMeters(meterProvider.Meter(traceAppName))

	return func(rootCtx context.Context, req *http.Request) (context.Context, *trace.ClientTrace) {
		tc := &trace.ClientTrace{}
		attrs := newAttributes(cfg, req)

		// Hooks are called from the exchange goroutine, RequestAborted from the Abort caller.
		lock := &sync.Mutex{}

		// Create root span and metrics, it may contain multiple HTTP requests (redirects).
		var exchangeSpan otelTrace.Span
		startTime := time.Now()
		meters.exchange.inFlight.Add(rootCtx, 1, otelMetric.WithAttributes(attrs.exchange...))
		rootCtx, exchangeSpan = tracer.Start(
			rootCtx,
			exchangeSpanName,
			otelTrace.WithSpanKind(otelTrace.SpanKindClient),
			otelTrace.WithAttributes(attrs.exchange...),
			otelTrace.WithAttributes(attrs.exchangeExtra...),
		)

		// Low-level spans
		var httpCtx context.Context
		var httpRequestSpan otelTrace.Span
		var httpRequestStart time.Time
		var receiveSpan otelTrace.Span

		// endHTTPRequest must be called with the lock held.
		endHTTPRequest := func(err error) {
			if receiveSpan != nil {
				if err != nil {
					receiveSpan.RecordError(err)
					receiveSpan.SetStatus(codes.Error, err.Error())
				}
				receiveSpan.End()
				receiveSpan = nil
			}
			if httpRequestSpan != nil {
				if err != nil {
					httpRequestSpan.RecordError(err)
					httpRequestSpan.SetStatus(codes.Error, err.Error())
				}
				httpRequestSpan.End()
				httpRequestSpan = nil
			}
		}

		// finish must be called with the lock held, the exchange span is ended only once.
		finish := func(sent, received int64, err error) {
			if exchangeSpan == nil {
				return
			}
			endHTTPRequest(err)

			// Metrics
			elapsedTime := float64(time.Since(startTime)) / float64(time.Millisecond)
			meterAttrs := append(append([]attribute.KeyValue{}, attrs.exchange...), attrs.exchangeResult(err)...)
			meters.exchange.inFlight.Add(rootCtx, -1, otelMetric.WithAttributes(attrs.exchange...)) // same attributes/dimensions as above (+1)!
			meters.exchange.duration.Record(rootCtx, elapsedTime, otelMetric.WithAttributes(meterAttrs...))
			meters.exchange.sentBytes.Add(rootCtx, sent, otelMetric.WithAttributes(meterAttrs...))
			meters.exchange.receivedBytes.Add(rootCtx, received, otelMetric.WithAttributes(meterAttrs...))

			// Tracing
			exchangeSpan.SetAttributes(attrs.httpResponse...)
			exchangeSpan.SetAttributes(attrs.exchangeResult(err)...)
			exchangeSpan.SetAttributes(attrSentBytes.Int64(sent), attrReceivedBytes.Int64(received))
			if err == nil {
				exchangeSpan.End()
			} else {
				exchangeSpan.RecordError(err)
				exchangeSpan.SetStatus(codes.Error, err.Error())
				exchangeSpan.End()
			}
			exchangeSpan = nil
		}

		// Handle HTTP requests
		tc.HTTPRequestStart = func(req *http.Request) {
			lock.Lock()
			defer lock.Unlock()

			// Create HTTP request span
			httpCtx, httpRequestSpan = tracer.Start(
				rootCtx,
				httpRequestSpanName,
				otelTrace.WithSpanKind(otelTrace.SpanKindClient),
			)

			// Inject trace headers
			if cfg.propagators != nil {
				cfg.propagators.Inject(httpCtx, propagation.HeaderCarrier(req.Header))
			}

			// Attrs
			httpRequestStart = time.Now()
			attrs.SetFromRequest(req)

			// Metrics
			meters.http.inFlight.Add(rootCtx, 1, otelMetric.WithAttributes(attrs.httpRequest...))

			// Tracing
			httpRequestSpan.SetAttributes(attrs.httpRequest...)
			httpRequestSpan.SetAttributes(attrs.httpRequestExtra...)
		}
		tc.GotFirstResponseByte = func() {
			lock.Lock()
			defer lock.Unlock()
			if httpCtx != nil {
				_, receiveSpan = tracer.Start(httpCtx, httpReceiveSpanName, otelTrace.WithSpanKind(otelTrace.SpanKindClient))
			}
		}
		tc.HTTPRequestDone = func(res *http.Response, err error) {
			lock.Lock()
			defer lock.Unlock()

			attrs.SetFromResponse(res)
			elapsedTime := float64(time.Since(httpRequestStart)) / float64(time.Millisecond)

			// Metrics
			meters.http.inFlight.Add(rootCtx, -1, otelMetric.WithAttributes(attrs.httpRequest...)) // same attributes/dimensions as in HTTPRequestStart!
			meters.http.duration.Record(
				rootCtx,
				elapsedTime,
				otelMetric.WithAttributes(attrs.httpRequest...),
				otelMetric.WithAttributes(attrs.httpResponse...),
			)

			// Tracing
			if httpRequestSpan != nil {
				httpRequestSpan.SetAttributes(attrs.httpResponse...)
				httpRequestSpan.SetAttributes(attrs.httpResponseExtra...)
			}

			switch {
			case err != nil:
				// The body will not be processed
				finish(0, 0, err)
			case isRedirection(res):
				endHTTPRequest(nil)
			default:
				// The span is ended when the body is processed
			}
		}
		tc.ResponseProcessed = func(_ *http.Response, sent, received int64, err error) {
			lock.Lock()
			defer lock.Unlock()
			finish(sent, received, err)
		}
		tc.RequestAborted = func(_ *http.Request) {
			lock.Lock()
			defer lock.Unlock()
			finish(0, 0, errAborted)
		}

		// Low-level stages of each HTTP request.
		// "otelhttptrace" pkg from the opentelemetry-contrib module does not end spans:
		// https://github.com/open-telemetry/opentelemetry-go-contrib/issues/399
		stageCtx := func() context.Context {
			lock.Lock()
			defer lock.Unlock()
			return httpCtx
		}
		dns := &stage{tracer: tracer, name: httpDNSSpanName}
		tc.DNSStart = func(info httptrace.DNSStartInfo) {
			dns.start(stageCtx(), semconv.NetHostName(info.Host))
		}
		tc.DNSDone = func(info httptrace.DNSDoneInfo) {
			addrs := make([]string, 0, len(info.Addrs))
			for _, netAddr := range info.Addrs {
				addrs = append(addrs, netAddr.String())
			}
			dns.end(info.Err, attrDNSAddresses.String(strings.Join(addrs, ";")))
		}

		getConn := &stage{tracer: tracer, name: httpGetConnSpanName}
		tc.GetConn = func(host string) {
			getConn.start(stageCtx(), semconv.NetHostName(host))
		}
		tc.GotConn = func(info httptrace.GotConnInfo) {
			connAttrs := []attribute.KeyValue{
				attrRemoteAddr.String(info.Conn.RemoteAddr().String()),
				attrLocalAddr.String(info.Conn.LocalAddr().String()),
				attrConnectionReused.Bool(info.Reused),
				attrConnectionWasIdle.Bool(info.WasIdle),
			}
			if info.WasIdle {
				connAttrs = append(connAttrs, attrConnectionIdleTime.String(info.IdleTime.String()))
			}
			getConn.end(nil, connAttrs...)
		}

		connect := &stage{tracer: tracer, name: httpConnectSpanName}
		tc.ConnectStart = func(network, addr string) {
			connect.start(stageCtx(), attrRemoteAddr.String(addr), attrConnectionNetwork.String(network))
		}
		tc.ConnectDone = func(_, _ string, err error) {
			connect.end(err)
		}

		// Note: TLS handshake is not reported if the http2.Transport is used directly, without upgrade from http.Transport.
		tlsHandshake := &stage{tracer: tracer, name: httpTLSHandshakeSpanName}
		tc.TLSHandshakeStart = func() {
			tlsHandshake.start(stageCtx())
		}
		tc.TLSHandshakeDone = func(_ tls.ConnectionState, err error) {
			tlsHandshake.end(err)
		}

		send := &stage{tracer: tracer, name: httpSendSpanName}
		tc.WroteHeaders = func() {
			send.start(stageCtx())
		}
		tc.WroteRequest = func(info httptrace.WroteRequestInfo) {
			send.end(info.Err)
		}

		return rootCtx, tc
	}
}

// stage is a low-level span of one HTTP request, for example the DNS lookup.
type stage struct {
	tracer otelTrace.Tracer
	name   string
	lock   sync.Mutex
	span   otelTrace.Span
}

func (s *stage) start(ctx context.Context, attrs ...attribute.KeyValue) {
	if ctx == nil {
		return
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	_, s.span = s.tracer.Start(ctx, s.name, otelTrace.WithSpanKind(otelTrace.SpanKindClient), otelTrace.WithAttributes(attrs...))
}

func (s *stage) end(err error, attrs ...attribute.KeyValue) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.span == nil {
		return
	}
	s.span.SetAttributes(attrs...)
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
	s.span = nil
}

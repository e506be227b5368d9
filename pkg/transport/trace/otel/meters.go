package otel

import otelMetric "go.opentelemetry.io/otel/metric"

const (
	exchangeMeterPrefix = "keboola.go.demand."
	httpMeterPrefix     = "keboola.go.http."
)

type allMeters struct {
	exchange exchangeMeters
	http     httpMeters
}

type exchangeMeters struct {
	inFlight      otelMetric.Int64UpDownCounter
	duration      otelMetric.Float64Histogram
	sentBytes     otelMetric.Int64Counter
	receivedBytes otelMetric.Int64Counter
}

type httpMeters struct {
	inFlight otelMetric.Int64UpDownCounter
	duration otelMetric.Float64Histogram
}

func newMeters(meter otelMetric.Meter) *allMeters {
	return &allMeters{
		exchange: exchangeMeters{
			inFlight:      upDownCounter(meter, exchangeMeterPrefix+"exchange.in_flight", "Demand: in flight exchanges."),
			duration:      histogram(meter, exchangeMeterPrefix+"exchange.duration", "Demand: exchange duration, including body.", "ms"),
			sentBytes:     counter(meter, exchangeMeterPrefix+"exchange.sent_bytes", "Demand: sent body bytes.", "By"),
			receivedBytes: counter(meter, exchangeMeterPrefix+"exchange.received_bytes", "Demand: received raw body bytes.", "By"),
		},
		http: httpMeters{
			inFlight: upDownCounter(meter, httpMeterPrefix+"request.in_flight", "HTTP request: in flight requests."),
			duration: histogram(meter, httpMeterPrefix+"request.duration", "HTTP request: response headers received duration.", "ms"),
		},
	}
}

func upDownCounter(meter otelMetric.Meter, name, desc string) otelMetric.Int64UpDownCounter {
	return mustInstrument(meter.Int64UpDownCounter(name, otelMetric.WithDescription(desc)))
}

func counter(meter otelMetric.Meter, name, desc, unit string) otelMetric.Int64Counter {
	return mustInstrument(meter.Int64Counter(name, otelMetric.WithDescription(desc), otelMetric.WithUnit(unit)))
}

func histogram(meter otelMetric.Meter, name, desc string, unit string) otelMetric.Float64Histogram {
	return mustInstrument(meter.Float64Histogram(name, otelMetric.WithDescription(desc), otelMetric.WithUnit(unit)))
}

func mustInstrument[T any](instrument T, err error) T {
	if err != nil {
		panic(err)
	}
	return instrument
}

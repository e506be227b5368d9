package otel

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

type config struct {
	propagators     propagation.TextMapPropagator
	attributes      []attribute.KeyValue
	redactedQuery   nameSet
	redactedHeaders nameSet
}

type Option func(*config)

// nameSet is a set of lower-cased names.
type nameSet map[string]struct{}

func (s nameSet) add(names ...string) {
	for _, name := range names {
		s[strings.ToLower(name)] = struct{}{}
	}
}

func (s nameSet) has(name string) bool {
	_, found := s[strings.ToLower(name)]
	return found
}

// WithPropagators injects the trace context to headers of each HTTP request.
func WithPropagators(v propagation.TextMapPropagator) Option {
	return func(c *config) {
		c.propagators = v
	}
}

// WithAttributes adds static attributes to the exchange span and metrics, for example the demand name.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(c *config) {
		c.attributes = append(c.attributes, attrs...)
	}
}

// WithRedactedQueryParam replaces values of the query parameters by "****" in the http.url attribute.
func WithRedactedQueryParam(params ...string) Option {
	return func(c *config) {
		c.redactedQuery.add(params...)
	}
}

// WithRedactedHeaders replaces values of the headers by "****" in header attributes.
// Authentication and cookie headers are always redacted.
func WithRedactedHeaders(headers ...string) Option {
	return func(c *config) {
		c.redactedHeaders.add(headers...)
	}
}

func newConfig(opts []Option) config {
	cfg := config{redactedQuery: make(nameSet), redactedHeaders: make(nameSet)}
	cfg.redactedHeaders.add("Authorization", "WWW-Authenticate", "Proxy-Authenticate", "Proxy-Authorization", "Cookie", "Set-Cookie")
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

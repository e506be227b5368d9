package otel

import (
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

const (
	maskedAttrValue = "****"
)

const (
	attrDNSAddresses       = attribute.Key("http.dns.addrs")
	attrRemoteAddr         = attribute.Key("http.remote")
	attrLocalAddr          = attribute.Key("http.local")
	attrConnectionReused   = attribute.Key("http.conn.reused")
	attrConnectionWasIdle  = attribute.Key("http.conn.wasidle")
	attrConnectionIdleTime = attribute.Key("http.conn.idletime")
	attrConnectionNetwork  = attribute.Key("http.conn.network")
	attrSentBytes          = attribute.Key("exchange.sent_bytes")
	attrReceivedBytes      = attribute.Key("exchange.received_bytes")
)

type attributes struct {
	config config
	// exchange attributes for span and metrics
	exchange []attribute.KeyValue
	// exchangeExtra attributes for span only
	exchangeExtra []attribute.KeyValue
	// httpRequest attributes for span and metrics
	httpRequest []attribute.KeyValue
	// httpRequestExtra attributes for span only
	httpRequestExtra []attribute.KeyValue
	// httpResponse attributes for span and metrics
	httpResponse []attribute.KeyValue
	// httpResponseExtra attributes for span only
	httpResponseExtra []attribute.KeyValue
	// lastStatusCode of the last response, 0 if there is none
	lastStatusCode int
}

func newAttributes(cfg config, req *http.Request) *attributes {
	out := &attributes{config: cfg}
	out.exchange = append([]attribute.KeyValue{
		attribute.String("exchange.method", req.Method),
		attribute.String("exchange.url.full", out.redactURL(req.URL)),
		attribute.String("exchange.url.path", req.URL.Path),
		attribute.String("exchange.url.host", req.URL.Host),
	}, cfg.attributes...)
	out.exchangeExtra = out.headers("exchange.header.", req.Header)
	return out
}

func (v *attributes) SetFromRequest(req *http.Request) {
	if req == nil {
		v.httpRequest = nil
		v.httpRequestExtra = nil
		return
	}

	v.httpRequest = []attribute.KeyValue{
		semconv.HTTPMethodKey.String(req.Method),
		semconv.HTTPURLKey.String(v.redactURL(req.URL)),
		semconv.HTTPSchemeKey.String(req.URL.Scheme),
		semconv.NetPeerNameKey.String(req.URL.Hostname()),
	}
	v.httpRequestExtra = v.headers("http.header.", req.Header)
}

func (v *attributes) SetFromResponse(res *http.Response) {
	if res == nil {
		v.lastStatusCode = 0
		v.httpResponse = nil
		v.httpResponseExtra = nil
		return
	}

	v.lastStatusCode = res.StatusCode
	v.httpResponse = []attribute.KeyValue{
		semconv.HTTPStatusCodeKey.Int(res.StatusCode),
	}
	v.httpResponseExtra = v.headers("http.response.header.", res.Header)
}

// exchangeResult returns attributes describing the outcome of the exchange.
func (v *attributes) exchangeResult(err error) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.HTTPStatusCodeKey.Int(v.lastStatusCode),
		attribute.Bool("exchange.success", err == nil && isSuccess(v.lastStatusCode)),
		attribute.Bool("exchange.aborted", errors.Is(err, errAborted)),
		attribute.Bool("exchange.error.has", err != nil),
	}
}

func (v *attributes) headers(prefix string, header http.Header) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for key, values := range header {
		key = strings.ToLower(key)
		value := strings.Join(values, ";")
		if v.config.redactedHeaders.has(key) {
			value = maskedAttrValue
		}
		attrs = append(attrs, attribute.String(prefix+key, value))
	}
	sort.SliceStable(attrs, func(i, j int) bool {
		return attrs[i].Key < attrs[j].Key
	})
	return attrs
}

// redactURL returns the URL with values of the redacted query parameters masked.
func (v *attributes) redactURL(u *url.URL) string {
	if u.RawQuery == "" || len(v.config.redactedQuery) == 0 {
		return u.String()
	}

	query := u.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		redacted := v.config.redactedQuery.has(k)
		for _, value := range query[k] {
			if redacted {
				parts = append(parts, url.QueryEscape(k)+"="+maskedAttrValue)
			} else {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(value))
			}
		}
	}

	clone := *u
	clone.RawQuery = strings.Join(parts, "&")
	return clone.String()
}

// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package httptrace propagates the trace context of the current invocation
// on the outbound HTTP requests made by the handler.
package httptrace

import (
	"net/http"

	"github.com/DataDog/datadog-agent/pkg/util/log"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/trace/propagation"
)

// HeadersProvider returns the Datadog headers of the current invocation,
// nil when there is no trace context.
type HeadersProvider interface {
	OutboundHeaders() map[string]string
}

// Transport is an http.RoundTripper adding the trace context headers to every
// request. Requests carrying the DD-Internal-Untraced-Request header are sent
// untouched, minus that header.
type Transport struct {
	base     http.RoundTripper
	provider HeadersProvider
}

// NewTransport wraps base, http.DefaultTransport when nil
func NewTransport(base http.RoundTripper, provider HeadersProvider) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, provider: provider}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// the caller's request must not be modified
	out := req.Clone(req.Context())

	if _, untraced := out.Header[http.CanonicalHeaderKey(propagation.UntracedRequestHeader)]; untraced {
		out.Header.Del(propagation.UntracedRequestHeader)
		return t.base.RoundTrip(out)
	}

	if t.provider != nil {
		if headers := t.provider.OutboundHeaders(); len(headers) > 0 {
			propagation.InjectHeaders(out.Header, headers)
		} else {
			log.Debugf("no trace context to propagate to %s", out.URL.Host)
		}
	}
	return t.base.RoundTrip(out)
}

// WrapClient returns a copy of client whose requests carry the trace context.
// A nil client wraps http.DefaultClient.
func WrapClient(client *http.Client, provider HeadersProvider) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}
	wrapped := *client
	wrapped.Transport = NewTransport(client.Transport, provider)
	return &wrapped
}

// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package propagation

import (
	"net/http"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cast"

	"github.com/DataDog/datadog-agent/pkg/util/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// eventWithHeaders only decodes the part of the event we care about.
// Header values are kept untyped so non-string values can be rejected.
type eventWithHeaders struct {
	Headers map[string]interface{} `json:"headers"`
}

// FromEventHeaders reads the Datadog trace context from the "headers" object
// of an invocation event. Header names are matched case-insensitively and the
// three Datadog headers must all be present as strings.
func FromEventHeaders(event []byte) Result {
	var eh eventWithHeaders
	if err := json.Unmarshal(event, &eh); err != nil {
		log.Debugf("event has no readable headers: %v", err)
		return NotFound()
	}
	if eh.Headers == nil {
		return NotFound()
	}

	headers := make(map[string]string, len(eh.Headers))
	for k, v := range eh.Headers {
		if s, ok := v.(string); ok {
			headers[strings.ToLower(k)] = s
		}
	}
	return fromLowercaseHeaders(headers, SourceEvent)
}

// FromHeaders reads the Datadog trace context from HTTP headers.
func FromHeaders(h http.Header, source Source) Result {
	headers := make(map[string]string, 3)
	for _, name := range []string{TraceIDHeader, ParentIDHeader, SamplingPriorityHeader} {
		if values := h.Values(name); len(values) > 0 {
			headers[name] = values[0]
		}
	}
	return fromLowercaseHeaders(headers, source)
}

func fromLowercaseHeaders(headers map[string]string, source Source) Result {
	traceID, ok := headers[TraceIDHeader]
	if !ok {
		return NotFound()
	}
	parentID, ok := headers[ParentIDHeader]
	if !ok {
		return NotFound()
	}
	samplingPriority, ok := headers[SamplingPriorityHeader]
	if !ok {
		return NotFound()
	}

	return Found(TraceContext{
		TraceID:    traceID,
		ParentID:   parentID,
		SampleMode: parseSamplingPriority(samplingPriority),
		Source:     source,
	})
}

// ToOutboundHeaders serializes a context into the Datadog headers carried by
// outbound requests. spanID is added as x-datadog-span-id when non zero.
func ToOutboundHeaders(tc TraceContext, spanID uint64) map[string]string {
	headers := map[string]string{
		TraceIDHeader:          tc.TraceID,
		ParentIDHeader:         tc.ParentID,
		SamplingPriorityHeader: tc.SampleMode.String(),
	}
	if spanID != 0 {
		headers[SpanIDHeader] = strconv.FormatUint(spanID, 10)
	}
	if tc.Origin != "" {
		headers[OriginHeader] = tc.Origin
	}
	return headers
}

// InjectHeaders sets the given headers on h, overwriting existing values.
func InjectHeaders(h http.Header, headers map[string]string) {
	for k, v := range headers {
		h.Set(k, v)
	}
}

// parseSamplingPriority reads the leading decimal integer of s, "0x2" and
// "abc" are 0 and "010" is 10.
func parseSamplingPriority(s string) SampleMode {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	priority, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return SampleMode(0)
	}
	return SampleMode(cast.ToInt(priority))
}

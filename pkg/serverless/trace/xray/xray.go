// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package xray converts the X-Ray trace header of the current invocation into
// a Datadog trace context, and reports Datadog contexts back to the X-Ray daemon.
package xray

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-xray-sdk-go/header"

	"github.com/DataDog/datadog-agent/pkg/util/log"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/trace/propagation"
)

const (
	// TraceHeaderEnvVar holds the X-Ray trace header of the current invocation
	TraceHeaderEnvVar = "_X_AMZN_TRACE_ID"
	// DaemonAddressEnvVar overrides the X-Ray daemon address, as host:port
	DaemonAddressEnvVar = "AWS_XRAY_DAEMON_ADDRESS"

	defaultDaemonAddress = "127.0.0.1:2000"
	defaultSendTimeout   = 300 * time.Millisecond
)

// ErrNoTraceHeader is returned when the X-Ray trace header isn't set or is incomplete.
var ErrNoTraceHeader = errors.New("no x-ray trace header")

// TraceHeader is the raw content of the X-Ray trace header.
type TraceHeader struct {
	TraceID  string
	ParentID string
	Sampled  string
}

// ParseTraceHeader parses a Root=...;Parent=...;Sampled=... header.
func ParseTraceHeader(s string) (TraceHeader, error) {
	if s == "" {
		return TraceHeader{}, ErrNoTraceHeader
	}
	h := header.FromString(s)
	if h.TraceID == "" || h.ParentID == "" {
		return TraceHeader{}, fmt.Errorf("%w: %q", ErrNoTraceHeader, s)
	}
	sampled := "0"
	if h.SamplingDecision == header.Sampled {
		sampled = "1"
	}
	return TraceHeader{
		TraceID:  h.TraceID,
		ParentID: h.ParentID,
		Sampled:  sampled,
	}, nil
}

// Source reads the X-Ray trace header from the environment.
type Source struct {
	getenv      func(string) string
	sendTimeout time.Duration
	now         func() time.Time
}

// Option configures a Source
type Option func(*Source)

// WithGetenv replaces os.Getenv
func WithGetenv(getenv func(string) string) Option {
	return func(s *Source) { s.getenv = getenv }
}

// WithSendTimeout bounds the time spent sending to the daemon
func WithSendTimeout(timeout time.Duration) Option {
	return func(s *Source) { s.sendTimeout = timeout }
}

// NewSource returns a Source reading the process environment.
func NewSource(opts ...Option) *Source {
	s := &Source{
		getenv:      os.Getenv,
		sendTimeout: defaultSendTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReadFromEnvironment converts the current X-Ray trace header into a trace
// context. Any parsing or conversion failure is logged and yields NotFound.
func (s *Source) ReadFromEnvironment() propagation.Result {
	raw := s.getenv(TraceHeaderEnvVar)
	th, err := ParseTraceHeader(raw)
	if err != nil {
		log.Errorf("couldn't read xray trace header %q: %v", raw, err)
		return propagation.NotFound()
	}

	traceID, err := propagation.XRayTraceIDToAPMTraceID(th.TraceID)
	if err != nil {
		log.Errorf("couldn't read xray trace header %q: %v", raw, err)
		return propagation.NotFound()
	}
	parentID, err := propagation.XRayParentIDToAPMParentID(th.ParentID)
	if err != nil {
		log.Errorf("couldn't read xray trace header %q: %v", raw, err)
		return propagation.NotFound()
	}

	return propagation.Found(propagation.TraceContext{
		TraceID:    traceID,
		ParentID:   parentID,
		SampleMode: propagation.XRaySampledToSampleMode(th.Sampled),
		Source:     propagation.SourceXRay,
	})
}

func (s *Source) daemonAddress() string {
	if addr := s.getenv(DaemonAddressEnvVar); addr != "" {
		return addr
	}
	return defaultDaemonAddress
}

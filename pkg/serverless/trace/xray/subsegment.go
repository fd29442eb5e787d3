// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package xray

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/DataDog/datadog-agent/pkg/util/log"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/trace/propagation"
)

const (
	subsegmentName      = "datadog-metadata"
	subsegmentNamespace = "datadog"
	subsegmentKey       = "trace"

	// daemonPreamble must prefix every datagram sent to the daemon
	daemonPreamble = `{"format":"json","version":1}`
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type subsegment struct {
	ID        string                                  `json:"id"`
	TraceID   string                                  `json:"trace_id"`
	ParentID  string                                  `json:"parent_id"`
	Name      string                                  `json:"name"`
	StartTime float64                                 `json:"start_time"`
	EndTime   float64                                 `json:"end_time"`
	Type      string                                  `json:"type"`
	Metadata  map[string]map[string]map[string]string `json:"metadata"`
}

// BuildMetadataSubsegment returns the daemon datagram carrying the Datadog
// trace context as metadata of a subsegment of the current X-Ray segment.
func (s *Source) BuildMetadataSubsegment(tc propagation.TraceContext) ([]byte, error) {
	th, err := ParseTraceHeader(s.getenv(TraceHeaderEnvVar))
	if err != nil {
		return nil, err
	}
	id, err := newSegmentID()
	if err != nil {
		return nil, err
	}

	t := s.now()
	now := float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
	doc, err := json.Marshal(subsegment{
		ID:        id,
		TraceID:   th.TraceID,
		ParentID:  th.ParentID,
		Name:      subsegmentName,
		StartTime: now,
		EndTime:   now,
		Type:      "subsegment",
		Metadata: map[string]map[string]map[string]string{
			subsegmentNamespace: {
				subsegmentKey: {
					"trace-id":          tc.TraceID,
					"parent-id":         tc.ParentID,
					"sampling-priority": tc.SampleMode.String(),
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't marshal subsegment: %w", err)
	}

	datagram := make([]byte, 0, len(daemonPreamble)+1+len(doc))
	datagram = append(datagram, daemonPreamble...)
	datagram = append(datagram, '\n')
	return append(datagram, doc...), nil
}

// PublishMetadataSubsegment sends the Datadog trace context to the X-Ray
// daemon over UDP. It is sent once, without retries.
func (s *Source) PublishMetadataSubsegment(tc propagation.TraceContext) error {
	datagram, err := s.BuildMetadataSubsegment(tc)
	if err != nil {
		return err
	}

	addr := s.daemonAddress()
	conn, err := net.DialTimeout("udp", addr, s.sendTimeout)
	if err != nil {
		return fmt.Errorf("couldn't reach the xray daemon at %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(s.sendTimeout)); err != nil {
		return err
	}
	if _, err := conn.Write(datagram); err != nil {
		return fmt.Errorf("couldn't send subsegment to %s: %w", addr, err)
	}
	log.Debugf("sent metadata to xray: %s", datagram)
	return nil
}

func newSegmentID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("couldn't generate segment id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

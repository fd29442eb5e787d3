// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/DataDog/datadog-agent/pkg/util/log"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/ddlambda"
)

// downstreamURLEnvVar is the URL called by the handler, nothing is called when unset
const downstreamURLEnvVar = "DOWNSTREAM_URL"

var httpClient = ddlambda.HTTPClient(nil)

type response struct {
	TraceID    string `json:"trace_id,omitempty"`
	Downstream int    `json:"downstream_status,omitempty"`
}

// handleRequest counts the request and calls the downstream service with the
// trace context of the invocation.
func handleRequest(ctx context.Context, event map[string]interface{}) (response, error) {
	ddlambda.Metric("serverless.sample.requests", 1, "handler:sample")

	var resp response
	if tc, found := ddlambda.CurrentTraceContext().Get(); found {
		resp.TraceID = tc.TraceID
	}

	url := os.Getenv(downstreamURLEnvVar)
	if url == "" {
		return resp, nil
	}
	status, err := callDownstream(ctx, httpClient, url)
	if err != nil {
		return resp, err
	}
	resp.Downstream = status
	return resp, nil
}

func callDownstream(ctx context.Context, client *http.Client, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("invalid downstream url: %w", err)
	}
	res, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("downstream call failed: %w", err)
	}
	defer res.Body.Close()
	if _, err := io.Copy(io.Discard, res.Body); err != nil {
		log.Debugf("couldn't drain the downstream response: %v", err)
	}
	return res.StatusCode, nil
}

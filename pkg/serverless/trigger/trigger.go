// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package trigger detects which AWS service invoked the function.
package trigger

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/DataDog/datadog-agent/pkg/util/log"
)

const (
	// EventSourceTag is the span tag holding the event source
	EventSourceTag = "function_trigger.event_source"

	// APIGATEWAY and below are the event sources
	APIGATEWAY = "apigateway"
	HTTPAPI    = "http-api"
	WEBSOCKET  = "websocket"
	SNS        = "sns"
	SQS        = "sqs"
	S3         = "s3"
	DYNAMODB   = "dynamodb"
	KINESIS    = "kinesis"
	UNKNOWN    = "unknown"
)

// recordSources maps the eventSource of a record to an event source
var recordSources = map[string]string{
	"aws:sns":      SNS,
	"aws:sqs":      SQS,
	"aws:s3":       S3,
	"aws:dynamodb": DYNAMODB,
	"aws:kinesis":  KINESIS,
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventKeys are used to tell us what event type we received
type EventKeys struct {
	RequestContext RequestContextKeys `json:"requestContext"`
	Records        []RecordKeys       `json:"Records"`
	HTTPMethod     string             `json:"httpMethod"`
	Path           string             `json:"path"`
}

// RequestContextKeys holds the nested requestContext from the payload.
type RequestContextKeys struct {
	Stage            string `json:"stage"`
	RouteKey         string `json:"routeKey"`
	MessageDirection string `json:"messageDirection"`
	Domain           string `json:"domainName"`
	APIID            string `json:"apiId"`
}

// RecordKeys holds the data for Records. SNS spells the key EventSource,
// the other services eventSource; decoding is case insensitive.
type RecordKeys struct {
	EventSource string `json:"eventSource"`
}

// ParseEventSource parses the event payload, and based on
// specific keys in the payload, determines the event source.
func ParseEventSource(event []byte) (string, EventKeys) {
	var eventKeys EventKeys
	if err := json.Unmarshal(event, &eventKeys); err != nil {
		log.Debugf("unable to parse the event payload to find its source: %v", err)
		return UNKNOWN, EventKeys{}
	}

	if eventKeys.RequestContext.Stage != "" {
		switch {
		case eventKeys.RequestContext.MessageDirection != "":
			return WEBSOCKET, eventKeys
		case eventKeys.RequestContext.RouteKey != "":
			return HTTPAPI, eventKeys
		case eventKeys.HTTPMethod != "":
			return APIGATEWAY, eventKeys
		}
	}

	if len(eventKeys.Records) > 0 {
		if source, ok := recordSources[eventKeys.Records[0].EventSource]; ok {
			return source, eventKeys
		}
	}
	return UNKNOWN, eventKeys
}

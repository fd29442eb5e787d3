// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package trigger

import (
	"fmt"

	"github.com/aws/aws-lambda-go/events"

	"github.com/DataDog/datadog-agent/pkg/util/log"
)

// EventSourceARNTag is the span tag holding the ARN of the event source
const EventSourceARNTag = "function_trigger.event_source_arn"

// ExtractEventSourceARN returns the ARN of the resource that sent the event,
// an empty string when it can't be found.
func ExtractEventSourceARN(source string, event []byte, region string) string {
	var err error
	var arn string
	switch source {
	case APIGATEWAY:
		var e events.APIGatewayProxyRequest
		if err = json.Unmarshal(event, &e); err == nil {
			arn = apiGatewayARN(region, e.RequestContext.APIID, e.RequestContext.Stage)
		}
	case HTTPAPI:
		var e events.APIGatewayV2HTTPRequest
		if err = json.Unmarshal(event, &e); err == nil {
			arn = apiGatewayARN(region, e.RequestContext.APIID, e.RequestContext.Stage)
		}
	case WEBSOCKET:
		var e events.APIGatewayWebsocketProxyRequest
		if err = json.Unmarshal(event, &e); err == nil {
			arn = apiGatewayARN(region, e.RequestContext.APIID, e.RequestContext.Stage)
		}
	case SNS:
		var e events.SNSEvent
		if err = json.Unmarshal(event, &e); err == nil && len(e.Records) > 0 {
			arn = e.Records[0].SNS.TopicArn
		}
	case SQS:
		var e events.SQSEvent
		if err = json.Unmarshal(event, &e); err == nil && len(e.Records) > 0 {
			arn = e.Records[0].EventSourceARN
		}
	case S3:
		var e events.S3Event
		if err = json.Unmarshal(event, &e); err == nil && len(e.Records) > 0 {
			arn = e.Records[0].S3.Bucket.Arn
		}
	case DYNAMODB:
		var e events.DynamoDBEvent
		if err = json.Unmarshal(event, &e); err == nil && len(e.Records) > 0 {
			arn = e.Records[0].EventSourceArn
		}
	case KINESIS:
		var e events.KinesisEvent
		if err = json.Unmarshal(event, &e); err == nil && len(e.Records) > 0 {
			arn = e.Records[0].EventSourceArn
		}
	}
	if err != nil {
		log.Debugf("unable to extract the %s event source ARN: %v", source, err)
	}
	return arn
}

func apiGatewayARN(region, apiID, stage string) string {
	if apiID == "" {
		return ""
	}
	return fmt.Sprintf("arn:aws:apigateway:%s::/restapis/%s/stages/%s", region, apiID, stage)
}

// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package invocationlifecycle

const (
	// ExecutionSpanName is the operation name of the span wrapping the handler
	ExecutionSpanName = "aws.lambda"
	// ExecutionSpanType is the type of the execution span
	ExecutionSpanType = "serverless"

	coldStartTag       = "cold_start"
	functionARNTag     = "function_arn"
	functionVersionTag = "function_version"
	requestIDTag       = "request_id"
	resourceNamesTag   = "resource_names"
	functionNameTag    = "functionname"
	parentSourceTag    = "_dd.parent_source"
	parentSourceXRay   = "xray"
)

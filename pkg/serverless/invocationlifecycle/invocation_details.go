// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package invocationlifecycle

import (
	"time"
)

// InvocationRecord describes the invocation being processed. It is built
// when the invocation starts and never modified afterwards.
type InvocationRecord struct {
	HandlerName     string
	FunctionName    string
	RequestID       string
	FunctionARN     string
	FunctionVersion string
	MemorySize      int
	// ColdStart is true for the first invocation of the process
	ColdStart bool
}

// InvocationStartDetails stores information about the start of an invocation.
// This structure is passed to the OnInvokeStart method of the InvocationProcessor interface
type InvocationStartDetails struct {
	StartTime             time.Time
	InvokeEventRawPayload []byte
	Record                InvocationRecord
}

// InvocationEndDetails stores information about the end of an invocation.
// This structure is passed to the OnInvokeEnd method of the InvocationProcessor interface
type InvocationEndDetails struct {
	EndTime            time.Time
	ResponseRawPayload []byte
	// Error returned by the handler, nil on success
	Error error
}

// IsError returns true when the handler failed
func (d *InvocationEndDetails) IsError() bool {
	return d.Error != nil
}

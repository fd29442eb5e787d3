// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package aws derives the function identity and the enhanced metric tags
// from the Lambda invocation context.
package aws

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// ErrInvalidARN is returned when a function ARN doesn't have the
// arn:<partition>:lambda:<region>:<account-id>:function:<name> shape.
var ErrInvalidARN = errors.New("invalid function ARN")

// FunctionARN is a parsed Lambda function ARN.
// format: arn:aws:lambda:<region>:<account-id>:function:<function-name>[:<version or alias>]
type FunctionARN struct {
	Partition    string
	Region       string
	AccountID    string
	FunctionName string
	// Qualifier is the version or alias the function was invoked with, if any
	Qualifier string
}

// ParseFunctionARN splits a function ARN into its parts.
func ParseFunctionARN(arn string) (FunctionARN, error) {
	parts := strings.Split(arn, ":")
	if len(parts) < 7 || parts[0] != "arn" || parts[2] != "lambda" {
		return FunctionARN{}, fmt.Errorf("%w: %q", ErrInvalidARN, arn)
	}
	parsed := FunctionARN{
		Partition:    parts[1],
		Region:       parts[3],
		AccountID:    parts[4],
		FunctionName: parts[6],
	}
	if len(parts) > 7 {
		parsed.Qualifier = parts[7]
	}
	return parsed, nil
}

// Unqualified returns the lowercased ARN without the version or alias.
func (a FunctionARN) Unqualified() string {
	return strings.ToLower(strings.Join([]string{"arn", a.Partition, "lambda", a.Region, a.AccountID, "function", a.FunctionName}, ":"))
}

// Version returns the qualifier, $LATEST when the ARN has none.
func (a FunctionARN) Version() string {
	if a.Qualifier == "" {
		return "$LATEST"
	}
	return a.Qualifier
}

// FunctionInfo is what the enhanced metric tags are computed from.
type FunctionInfo struct {
	FunctionARN     string
	FunctionName    string
	FunctionVersion string
	MemorySize      int
	ColdStart       bool
}

// Runtime is the value of the runtime tag
func Runtime() string {
	return "Go " + strings.TrimPrefix(runtime.Version(), "go")
}

// EnhancedMetricTags returns the tags attached to the enhanced metrics.
// A malformed ARN only drops the region and account_id tags.
func EnhancedMetricTags(info FunctionInfo) []string {
	arn, err := ParseFunctionARN(info.FunctionARN)
	if err != nil {
		arn = FunctionARN{}
	}

	resource := info.FunctionName
	var executedVersion string
	if qualifier := arn.Qualifier; qualifier != "" {
		if strings.HasPrefix(qualifier, "$") {
			// $LATEST is tagged as LATEST
			qualifier = qualifier[1:]
		} else if !isNumeric(qualifier) {
			// alias: the version it points to comes from the context
			executedVersion = info.FunctionVersion
		}
		resource = info.FunctionName + ":" + qualifier
	}

	tags := []string{
		"functionname:" + info.FunctionName,
		"region:" + arn.Region,
		"account_id:" + arn.AccountID,
		"memorysize:" + strconv.Itoa(info.MemorySize),
		"cold_start:" + strconv.FormatBool(info.ColdStart),
		"runtime:" + Runtime(),
		"resource:" + resource,
	}
	if executedVersion != "" {
		tags = append(tags, "executedversion:"+executedVersion)
	}
	return tags
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

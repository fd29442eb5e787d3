// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package metrics

// SendInvocationEnhancedMetric counts one invocation
func (c *Client) SendInvocationEnhancedMetric(tags []string) error {
	return c.Distribution(InvocationsMetric, 1, tags...)
}

// SendErrorsEnhancedMetric counts one failed invocation
func (c *Client) SendErrorsEnhancedMetric(tags []string) error {
	return c.Distribution(ErrorsMetric, 1, tags...)
}

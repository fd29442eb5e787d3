// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package version defines the version of the library
package version

import "runtime"

// Version is the version of the library.
// It can be overridden at build time with -ldflags "-X .../pkg/version.Version=..."
var Version = "1.0.0"

// Commit is populated with the short commit hash at build time
var Commit string

// String returns the version line printed by the version command
func String() string {
	s := "datadog-serverless-tracing " + Version
	if Commit != "" {
		s += " - Commit: " + Commit
	}
	return s + " - Go version: " + runtime.Version()
}

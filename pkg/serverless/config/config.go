// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package config reads the library settings from the DD_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/DataDog/viper"
)

const (
	envPrefix = "DD"

	enhancedMetricsKey  = "enhanced_metrics"
	mergeXRayTracesKey  = "merge_xray_traces"
	traceEnabledKey     = "trace_enabled"
	logLevelKey         = "log_level"
	serviceKey          = "service"
	extensionTimeoutKey = "extension_timeout"

	// DefaultLogLevel keeps the function logs quiet unless asked otherwise
	DefaultLogLevel = "error"
	// DefaultService is the service of the execution span
	DefaultService = "aws.lambda"
	// DefaultExtensionTimeout bounds the calls to the extension
	DefaultExtensionTimeout = 300 * time.Millisecond
)

// Config holds the library settings
type Config struct {
	// EnhancedMetrics sends the aws.lambda.enhanced.* metrics (DD_ENHANCED_METRICS)
	EnhancedMetrics bool
	// MergeXRayTraces falls back to the X-Ray context when the event has none (DD_MERGE_XRAY_TRACES)
	MergeXRayTraces bool
	// TraceEnabled creates the execution span (DD_TRACE_ENABLED)
	TraceEnabled bool
	// LogLevel of the library logger (DD_LOG_LEVEL)
	LogLevel string
	// Service of the execution span (DD_SERVICE)
	Service string
	// ExtensionTimeout bounds every call to the extension (DD_EXTENSION_TIMEOUT)
	ExtensionTimeout time.Duration
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvAndSetDefault(v, enhancedMetricsKey, true)
	bindEnvAndSetDefault(v, mergeXRayTracesKey, false)
	bindEnvAndSetDefault(v, traceEnabledKey, true)
	bindEnvAndSetDefault(v, logLevelKey, DefaultLogLevel)
	bindEnvAndSetDefault(v, serviceKey, DefaultService)
	bindEnvAndSetDefault(v, extensionTimeoutKey, DefaultExtensionTimeout)
	return v
}

func bindEnvAndSetDefault(v *viper.Viper, key string, value interface{}) {
	v.SetDefault(key, value)
	_ = v.BindEnv(key)
}

// Load reads the configuration from the environment
func Load() Config {
	v := newViper()

	timeout := v.GetDuration(extensionTimeoutKey)
	if timeout <= 0 {
		timeout = DefaultExtensionTimeout
	}
	level := strings.ToLower(strings.TrimSpace(v.GetString(logLevelKey)))
	if level == "" {
		level = DefaultLogLevel
	}

	return Config{
		EnhancedMetrics:  v.GetBool(enhancedMetricsKey),
		MergeXRayTraces:  v.GetBool(mergeXRayTracesKey),
		TraceEnabled:     v.GetBool(traceEnabledKey),
		LogLevel:         level,
		Service:          v.GetString(serviceKey),
		ExtensionTimeout: timeout,
	}
}

// LogLevel reads DD_LOG_LEVEL only, it is refreshed on every invocation
func LogLevel() string {
	level := strings.ToLower(strings.TrimSpace(newViper().GetString(logLevelKey)))
	if level == "" {
		return DefaultLogLevel
	}
	return level
}

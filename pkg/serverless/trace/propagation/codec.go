// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package propagation

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	xrayTraceIDHexLength  = 24
	xrayParentIDHexLength = 16

	// the APM trace ID is restricted to 63 bits
	apmTraceIDMask uint64 = 0x7FFFFFFFFFFFFFFF
)

// ErrInvalidFormat is returned when an X-Ray identifier can't be converted.
var ErrInvalidFormat = errors.New("invalid x-ray identifier format")

// XRayTraceIDToAPMTraceID converts an X-Ray trace ID (1-<8 hex>-<24 hex>) to
// a Datadog trace ID by keeping the low 63 bits of its 96-bit third segment.
// The conversion is lossy and can't be reversed.
func XRayTraceIDToAPMTraceID(xrayTraceID string) (string, error) {
	parts := strings.Split(xrayTraceID, "-")
	if len(parts) < 3 {
		return "", fmt.Errorf("%w: expected 3 components in trace id %q", ErrInvalidFormat, xrayTraceID)
	}
	raw, err := decodeHex(parts[2], xrayTraceIDHexLength)
	if err != nil {
		return "", fmt.Errorf("while converting x-ray trace id: %w", err)
	}
	// only the last 8 bytes can survive the mask
	id := binary.BigEndian.Uint64(raw[len(raw)-8:]) & apmTraceIDMask
	return strconv.FormatUint(id, 10), nil
}

// XRayParentIDToAPMParentID converts a 16 hex characters X-Ray entity ID to a
// Datadog parent ID.
func XRayParentIDToAPMParentID(xrayParentID string) (string, error) {
	raw, err := decodeHex(xrayParentID, xrayParentIDHexLength)
	if err != nil {
		return "", fmt.Errorf("while converting x-ray parent id: %w", err)
	}
	return strconv.FormatUint(binary.BigEndian.Uint64(raw), 10), nil
}

// XRaySampledToSampleMode converts the X-Ray Sampled flag. X-Ray only carries
// user decisions, so "1" is a user keep and anything else a user reject.
func XRaySampledToSampleMode(flag string) SampleMode {
	if flag == "1" {
		return SampleModeUserKeep
	}
	return SampleModeUserReject
}

func decodeHex(s string, length int) ([]byte, error) {
	if len(s) != length {
		return nil, fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidFormat, length, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return raw, nil
}

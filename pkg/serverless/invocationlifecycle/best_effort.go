// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package invocationlifecycle

import (
	"fmt"

	"github.com/DataDog/datadog-agent/pkg/util/log"
)

// AttemptBestEffort runs fn, logs its error or panic, and carries on.
// It returns the error so callers can branch on it, never panics.
func AttemptBestEffort(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", label, r)
			log.Errorf("%v", err)
		}
	}()
	if err = fn(); err != nil {
		log.Debugf("%s failed: %v", label, err)
	}
	return err
}

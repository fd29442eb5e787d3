// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package logs sets up the library logger. Lines go to stdout, where the
// Lambda runtime forwards them to CloudWatch.
package logs

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/cihub/seelog"

	"github.com/DataDog/datadog-agent/pkg/util/log"
)

// loggerName shows up in every line
const loggerName = "DD_LAMBDA"

const logDateFormat = "2006-01-02 15:04:05 MST"

var (
	mu      sync.Mutex
	current seelog.LoggerInterface
)

func buildLogger(w io.Writer) (seelog.LoggerInterface, error) {
	// seelog lets everything through, the level is enforced by pkg/util/log
	// so that it can be changed between invocations.
	configTemplate := `<seelog type="sync" minlevel="trace">
    <outputs formatid="common"><custom name="writer" /></outputs>
    <formats>
        <format id="common" format="%%Date(%s) | %s | %%LEVEL | %%Msg%%n"/>
    </formats>
</seelog>`
	config := fmt.Sprintf(configTemplate, logDateFormat, loggerName)
	return seelog.LoggerFromParamConfigAsString(config, &seelog.CfgParseParams{
		CustomReceiverProducers: map[string]seelog.CustomReceiverProducer{
			"writer": func(seelog.CustomReceiverInitArgs) (seelog.CustomReceiver, error) {
				return &writerReceiver{w: w}, nil
			},
		},
	})
}

// SetupLogger installs a logger writing to stdout at the given level
func SetupLogger(level string) error {
	return SetupLoggerWithWriter(level, os.Stdout)
}

// SetupLoggerWithWriter installs a logger writing to w at the given level
func SetupLoggerWithWriter(level string, w io.Writer) error {
	level = normalizeLevel(level)
	if _, ok := seelog.LogLevelFromString(level); !ok {
		return fmt.Errorf("invalid log level %q", level)
	}
	logger, err := buildLogger(w)
	if err != nil {
		return fmt.Errorf("can't create the logger: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	current = logger
	log.SetupLogger(logger, level)
	return nil
}

// UpdateLevel changes the level of the installed logger. Unknown levels are
// ignored and reported.
func UpdateLevel(level string) error {
	level = normalizeLevel(level)
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return fmt.Errorf("logger is not set up")
	}
	if err := log.ChangeLogLevel(current, level); err != nil {
		return fmt.Errorf("can't change the log level to %q: %w", level, err)
	}
	return nil
}

// Flush writes the pending lines
func Flush() {
	log.Flush()
}

func normalizeLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return "warn"
	}
	return level
}

// writerReceiver is a seelog.CustomReceiver writing to an io.Writer
type writerReceiver struct {
	w io.Writer
}

func (r *writerReceiver) ReceiveMessage(message string, _ seelog.LogLevel, _ seelog.LogContextInterface) error {
	_, err := io.WriteString(r.w, message)
	return err
}

func (r *writerReceiver) AfterParse(seelog.CustomReceiverInitArgs) error {
	return nil
}

func (r *writerReceiver) Flush() {}

func (r *writerReceiver) Close() error {
	return nil
}

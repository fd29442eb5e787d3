// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package metrics submits the enhanced and custom metrics of a function.
// Metrics go to the extension's DogStatsD server when the extension runs,
// and are printed to stdout for the log forwarder otherwise.
package metrics

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/benbjohnson/clock"
	jsoniter "github.com/json-iterator/go"

	"github.com/DataDog/datadog-agent/pkg/util/log"
	"github.com/DataDog/datadog-serverless-tracing/pkg/version"
)

const (
	// InvocationsMetric counts the invocations of the function
	InvocationsMetric = "aws.lambda.enhanced.invocations"
	// ErrorsMetric counts the invocations that returned an error
	ErrorsMetric = "aws.lambda.enhanced.errors"

	// StatsdAddress is the DogStatsD server of the extension
	StatsdAddress = "127.0.0.1:8125"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LayerTag is added to every metric
func LayerTag() string {
	return "dd_lambda_layer:datadog-go" + version.Version
}

// logLine is the format understood by the Datadog log forwarder
type logLine struct {
	Epoch int64    `json:"e"`
	Name  string   `json:"m"`
	Tags  []string `json:"t"`
	Value float64  `json:"v"`
}

// Client sends distribution metrics.
type Client struct {
	statsd statsd.ClientInterface

	// mu serializes the lines written to out
	mu    sync.Mutex
	out   io.Writer
	clock clock.Clock
}

// Option configures a Client
type Option func(*Client)

// WithStatsdClient sends the metrics through the given client
func WithStatsdClient(c statsd.ClientInterface) Option {
	return func(cl *Client) { cl.statsd = c }
}

// WithWriter changes where the metric lines are printed
func WithWriter(w io.Writer) Option {
	return func(cl *Client) { cl.out = w }
}

// WithClock changes the clock used to timestamp metric lines
func WithClock(c clock.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// NewClient returns a Client. When extensionRunning is true, metrics are sent
// to the extension unless a statsd client was given through the options.
func NewClient(extensionRunning bool, opts ...Option) *Client {
	c := &Client{
		out:   os.Stdout,
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if extensionRunning && c.statsd == nil {
		client, err := statsd.New(StatsdAddress, statsd.WithoutTelemetry())
		if err != nil {
			log.Errorf("couldn't create the statsd client, printing metrics instead: %v", err)
		} else {
			c.statsd = client
		}
	}
	return c
}

// Distribution sends a distribution point timestamped now.
func (c *Client) Distribution(name string, value float64, tags ...string) error {
	return c.DistributionAt(name, value, c.clock.Now(), tags...)
}

// DistributionAt sends a distribution point. The timestamp is only used for
// printed metrics, DogStatsD timestamps points on reception.
func (c *Client) DistributionAt(name string, value float64, t time.Time, tags ...string) error {
	if name == "" {
		return errors.New("metric name can't be empty")
	}
	allTags := make([]string, 0, len(tags)+1)
	allTags = append(allTags, LayerTag())
	allTags = append(allTags, tags...)

	if c.statsd != nil {
		return c.statsd.Distribution(name, value, allTags, 1)
	}

	line, err := json.Marshal(logLine{
		Epoch: t.Unix(),
		Name:  name,
		Tags:  allTags,
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("can't marshal the metric %s: %w", name, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = fmt.Fprintf(c.out, "%s\n", line)
	return err
}

// Flush sends the buffered metrics
func (c *Client) Flush() error {
	if c.statsd == nil {
		return nil
	}
	return c.statsd.Flush()
}

// Close flushes and releases the statsd client
func (c *Client) Close() error {
	if c.statsd == nil {
		return nil
	}
	return c.statsd.Close()
}

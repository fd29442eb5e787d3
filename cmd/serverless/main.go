// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-2020 Datadog, Inc.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"github.com/DataDog/datadog-agent/pkg/util/log"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/ddlambda"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/logs"
	"github.com/DataDog/datadog-serverless-tracing/pkg/serverless/trace/ddtracer"
	"github.com/DataDog/datadog-serverless-tracing/pkg/version"
)

var (
	// serverlessCmd is the root command
	serverlessCmd = &cobra.Command{
		Use:   "serverless [command]",
		Short: "Instrumented Lambda function.",
		Long: `
Runs a Go Lambda handler instrumented with Datadog: the trace context of the invocation is read
from the event, X-Ray or the Datadog extension and propagated to the outbound requests.`,
	}

	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the Lambda runtime loop",
		Long:  `Serves the invocations of the Lambda runtime API`,
		Run: func(cmd *cobra.Command, args []string) {
			go handleSignals()
			lambda.Start(ddlambda.WrapFunction(handleRequest, nil))
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Long:  ``,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("datadog-serverless-tracing %s - Go version: %s\n", version.String(), runtime.Version())
		},
	}
)

func init() {
	// attach the command to the root
	serverlessCmd.AddCommand(startCmd)
	serverlessCmd.AddCommand(versionCmd)
}

func main() {
	// if not command has been provided, run start
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "start")
	}

	if err := serverlessCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}

// handleSignals stops the tracer when the runtime shuts the sandbox down.
func handleSignals() {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	signo := <-signalCh
	log.Infof("Received signal '%s', shutting down...", signo)
	ddtracer.Stop()
	logs.Flush()
	os.Exit(0)
}

// Package main provides the Lambda entry point for Penguin Studio.
//
// It serves the same router as penguin-web behind API Gateway (HTTP API,
// payload v2). Differences from the web server:
//   - Logging defaults to JSON lines for CloudWatch.
//   - Stage metrics are written as CloudWatch Embedded Metric Format.
//   - Secrets are read from SSM Parameter Store when SSM_PREFIX is set.
//   - Records should live in DynamoDB (STORE_BACKEND=dynamodb) and media in
//     S3 (MEDIA_BUCKET) since the function filesystem is ephemeral.
package main

import (
	"context"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/penguin-studio/internal/api"
	"github.com/fpang/penguin-studio/internal/boot"
	"github.com/fpang/penguin-studio/internal/metrics"
)

var handler http.Handler

func init() {
	if os.Getenv("LOG_FORMAT") == "" {
		os.Setenv("LOG_FORMAT", "json")
	}

	ctx := context.Background()
	app, err := boot.Load(ctx, boot.Options{
		Name:     "penguin-lambda",
		Observer: metrics.NewEMFObserver(os.Stdout),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Cold start failed")
	}
	// Janitors live as long as the execution environment.
	app.Run(ctx)

	opts := api.Options{
		Workflow:    app.Workflow,
		MediaDir:    app.MediaDir,
		CORSOrigins: app.Config.CORSOrigins,
	}
	if app.Webhook != nil {
		opts.Webhook = app.Webhook
	}
	handler = api.NewRouter(opts)
}

func main() {
	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}

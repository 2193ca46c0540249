package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/dmorgan81/stableimage/internal/handler"
	"github.com/dmorgan81/stableimage/internal/inject"
	"github.com/dmorgan81/stableimage/internal/log"
	"github.com/samber/do"
)

func main() {
	logger := log.New(os.Stderr, log.ParseLevel(os.Getenv("LOG_LEVEL")))
	ctx := log.NewContext(context.Background(), logger)
	injector := inject.Setup(ctx)

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		handler := do.MustInvoke[*handler.Handler](injector)
		lambda.StartWithOptions(handler.Handle, lambda.WithContext(ctx), lambda.WithEnableSIGTERM(func() {
			_ = injector.Shutdown()
		}))
		return
	}

	defer func() { _ = injector.Shutdown() }()
	h, err := do.Invoke[*handler.Handler](injector)
	if err == nil {
		var out handler.Output
		out, err = h.Handle(ctx, handler.Input{
			Image:        os.Getenv("IMAGE"),
			GenerationID: os.Getenv("GENERATION_ID"),
		})
		logger.Info("done", "output", out)
	}
	if err != nil {
		logger.Error("image generation failed", "error", err)
		_ = injector.Shutdown()
		os.Exit(1)
	}
}

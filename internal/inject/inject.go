package inject

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/dmorgan81/stableimage/internal/handler"
	"github.com/dmorgan81/stableimage/internal/image"
	"github.com/dmorgan81/stableimage/internal/log"
	"github.com/dmorgan81/stableimage/internal/param"
	"github.com/dmorgan81/stableimage/internal/store"
	"github.com/samber/do"
	"github.com/samber/lo"
)

const defaultPrompt = "A large Great Dane dog, approximately 90 cm tall, with a white coat and black spots, " +
	"standing on a sandy beach and gazing out over the ocean. The dog has a sleek black leash attached to its collar. " +
	"The scene captures a tranquil, bright day with gentle ocean waves in the background and a vast sky above, " +
	"emphasizing the dog's calm and reflective posture."

func Setup(ctx context.Context) *do.Injector {
	log := log.FromContextOrDiscard(ctx)

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		},
	})
	do.Provide[aws.Config](injector, func(i *do.Injector) (aws.Config, error) {
		return config.LoadDefaultConfig(ctx)
	})
	do.Provide[*ssm.Client](injector, func(i *do.Injector) (*ssm.Client, error) {
		return ssm.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.ProvideValue[*http.Client](injector, http.DefaultClient)

	// SSM is only touched when the key lives there.
	keyParam := os.Getenv("STABILITY_KEY_PARAM")
	do.Provide[param.Fetcher](injector, func(i *do.Injector) (param.Fetcher, error) {
		if keyParam != "" {
			return param.NewParameterStoreFetcher(i)
		}
		return param.EnvFetcher{}, nil
	})
	do.ProvideNamed[string](injector, "stability_key", func(i *do.Injector) (string, error) {
		return do.MustInvoke[param.Fetcher](i).Fetch(ctx, lo.Ternary(keyParam != "", keyParam, "STABILITY_KEY"))
	})
	do.ProvideNamedValue[string](injector, "endpoint", getenv("STABILITY_ENDPOINT", image.DefaultEndpoint))
	do.ProvideNamedValue[string](injector, "upscale_endpoint", getenv("STABILITY_UPSCALE_ENDPOINT", image.DefaultUpscaleEndpoint))
	do.ProvideNamedValue[string](injector, "user_agent", userAgent())
	do.Provide[handler.Defaults](injector, func(i *do.Injector) (handler.Defaults, error) {
		width, err := getenvInt("SIZE_WIDTH", 1024)
		if err != nil {
			return handler.Defaults{}, err
		}
		height, err := getenvInt("SIZE_HEIGHT", 1024)
		if err != nil {
			return handler.Defaults{}, err
		}
		return handler.Defaults{
			Prompt:         getenv("PROMPT", defaultPrompt),
			NegativePrompt: os.Getenv("NEGATIVE_PROMPT"),
			Width:          width,
			Height:         height,
			OutputFormat:   getenv("OUTPUT_FORMAT", string(image.FormatJPEG)),
			Destination:    getenv("DESTINATION", "./greatdane.jpeg"),
		}, nil
	})

	do.Provide[image.Generator](injector, image.NewStabilityGenerator)
	do.Provide[image.Upscaler](injector, image.NewStabilityUpscaler)
	do.Provide[store.Uploader](injector, store.NewFileUploader)
	do.Provide[*handler.Handler](injector, handler.NewHandler)

	return injector
}

func getenv(key, fallback string) string {
	v, _ := lo.Coalesce(os.Getenv(key), fallback)
	return v
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("inject: %s: %w", key, err)
	}
	return n, nil
}

func userAgent() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "stableimage:unknown"
	}
	setting := lo.FindOrElse(info.Settings, debug.BuildSetting{Value: "unknown"}, func(s debug.BuildSetting) bool {
		return s.Key == "vcs.revision"
	})
	return "stableimage:" + setting.Value
}

package image

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmorgan81/stableimage/internal/log"
	"github.com/samber/do"
)

const DefaultUpscaleEndpoint = "https://api.stability.ai/v2beta/stable-image/upscale/creative"

// UpscaleRequest starts a creative upscale of an existing image. Like
// GenerationRequest, nothing here is validated before it is sent.
type UpscaleRequest struct {
	Image          []byte
	ImageName      string
	Prompt         string
	NegativePrompt string
	OutputFormat   Format
	Endpoint       string
	AuthToken      string
}

func (r UpscaleRequest) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("image", r.ImageName),
		slog.Int("image_bytes", len(r.Image)),
		slog.String("prompt", r.Prompt),
		slog.String("negative_prompt", r.NegativePrompt),
		slog.String("output_format", string(r.OutputFormat)),
		slog.String("endpoint", r.Endpoint),
	)
}

type ResultRequest struct {
	ID        string
	Endpoint  string
	AuthToken string
}

func (r ResultRequest) url() string {
	return strings.TrimSuffix(r.Endpoint, "/") + "/result/" + url.PathEscape(r.ID)
}

type Upscaler interface {
	Upscale(context.Context, UpscaleRequest) (string, error)
	// Result checks once; done is false while the service is still working.
	Result(context.Context, ResultRequest) (img Image, done bool, err error)
}

type StabilityUpscaler struct {
	Client    *http.Client
	UserAgent string
}

func NewStabilityUpscaler(i *do.Injector) (Upscaler, error) {
	return &StabilityUpscaler{
		Client:    do.MustInvoke[*http.Client](i),
		UserAgent: do.MustInvokeNamed[string](i, "user_agent"),
	}, nil
}

func (u *StabilityUpscaler) Upscale(ctx context.Context, req UpscaleRequest) (string, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("stability").With("request", req)
	log.Info("starting upscale")

	fields := [][2]string{{"prompt", req.Prompt}}
	if req.NegativePrompt != "" {
		fields = append(fields, [2]string{"negative_prompt", req.NegativePrompt})
	}
	fields = append(fields, [2]string{"output_format", string(req.OutputFormat)})

	body, contentType, err := encodeForm(fields, formFile{field: "image", name: req.ImageName, data: req.Image})
	if err != nil {
		return "", err
	}

	httpReq, err := newRequest(ctx, http.MethodPost, req.Endpoint, body, req.AuthToken, u.UserAgent, "application/json")
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", contentType)

	status, _, data, err := roundTrip(u.Client, httpReq)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		log.Warn("upscale rejected", "status", status)
		return "", newFetchError(status, data)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("stability: upscale response has no generation id")
	}

	log.Info("upscale started", "id", out.ID)
	return out.ID, nil
}

func (u *StabilityUpscaler) Result(ctx context.Context, req ResultRequest) (Image, bool, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("stability").With("id", req.ID)
	log.Info("checking upscale result")

	httpReq, err := newRequest(ctx, http.MethodGet, req.url(), nil, req.AuthToken, u.UserAgent, "image/*")
	if err != nil {
		return Image{}, false, err
	}

	status, header, data, err := roundTrip(u.Client, httpReq)
	if err != nil {
		return Image{}, false, err
	}

	switch status {
	case http.StatusAccepted:
		log.Info("upscale in progress")
		return Image{}, false, nil
	case http.StatusOK:
		ct := header.Get("Content-Type")
		log.Info("received upscaled image", "content-type", ct, "bytes", len(data))
		return Image{Data: data, ContentType: ct}, true, nil
	default:
		log.Warn("upscale result rejected", "status", status)
		return Image{}, false, newFetchError(status, data)
	}
}

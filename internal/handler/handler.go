package handler

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dmorgan81/stableimage/internal/image"
	"github.com/dmorgan81/stableimage/internal/log"
	"github.com/dmorgan81/stableimage/internal/store"
	"github.com/samber/do"
	"github.com/samber/lo"
)

// Input selects one of three modes: GenerationID checks an upscale started
// earlier, Image starts an upscale of that file, otherwise a new image is
// generated.
type Input struct {
	Prompt         string `json:"prompt,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	OutputFormat   string `json:"output_format,omitempty"`
	Destination    string `json:"destination,omitempty"`
	Image          string `json:"image,omitempty"`
	GenerationID   string `json:"generation_id,omitempty"`
}

// Defaults fill whatever an Input leaves empty.
type Defaults Input

func (i Input) withDefaults(d Defaults) Input {
	i.Prompt, _ = lo.Coalesce(i.Prompt, d.Prompt)
	i.NegativePrompt, _ = lo.Coalesce(i.NegativePrompt, d.NegativePrompt)
	i.Width, _ = lo.Coalesce(i.Width, d.Width)
	i.Height, _ = lo.Coalesce(i.Height, d.Height)
	i.OutputFormat, _ = lo.Coalesce(i.OutputFormat, d.OutputFormat)
	i.Destination, _ = lo.Coalesce(i.Destination, d.Destination)
	return i
}

func (i Input) toGenerationRequest(endpoint, token string) image.GenerationRequest {
	return image.GenerationRequest{
		Prompt:       i.Prompt,
		Size:         image.Size{Width: i.Width, Height: i.Height},
		OutputFormat: image.Format(i.OutputFormat),
		Endpoint:     endpoint,
		AuthToken:    token,
	}
}

func (i Input) toUpscaleRequest(data []byte, endpoint, token string) image.UpscaleRequest {
	return image.UpscaleRequest{
		Image:          data,
		ImageName:      filepath.Base(i.Image),
		Prompt:         i.Prompt,
		NegativePrompt: i.NegativePrompt,
		OutputFormat:   image.Format(i.OutputFormat),
		Endpoint:       endpoint,
		AuthToken:      token,
	}
}

type Output struct {
	Input
	ContentType string `json:"content_type,omitempty"`
	Bytes       int    `json:"bytes"`
	Pending     bool   `json:"pending,omitempty"`
}

type Handler struct {
	generator       image.Generator
	upscaler        image.Upscaler
	uploader        store.Uploader
	endpoint        string
	upscaleEndpoint string
	token           string
	defaults        Defaults
}

func NewHandler(i *do.Injector) (*Handler, error) {
	return &Handler{
		generator:       do.MustInvoke[image.Generator](i),
		upscaler:        do.MustInvoke[image.Upscaler](i),
		uploader:        do.MustInvoke[store.Uploader](i),
		endpoint:        do.MustInvokeNamed[string](i, "endpoint"),
		upscaleEndpoint: do.MustInvokeNamed[string](i, "upscale_endpoint"),
		token:           do.MustInvokeNamed[string](i, "stability_key"),
		defaults:        do.MustInvoke[Defaults](i),
	}, nil
}

func (h *Handler) Handle(ctx context.Context, input Input) (Output, error) {
	input = input.withDefaults(h.defaults)

	log := log.FromContextOrDiscard(ctx).WithGroup("Handler").With("input", input)
	log.Info("handling invocation")

	switch {
	case input.GenerationID != "":
		img, done, err := h.fetchResultAndSave(ctx, image.ResultRequest{
			ID:        input.GenerationID,
			Endpoint:  h.upscaleEndpoint,
			AuthToken: h.token,
		}, input.Destination)
		if err != nil {
			return Output{}, err
		}
		return Output{Input: input, ContentType: img.ContentType, Bytes: len(img.Data), Pending: !done}, nil

	case input.Image != "":
		data, err := os.ReadFile(input.Image)
		if err != nil {
			return Output{}, err
		}
		id, err := h.Upscale(ctx, input.toUpscaleRequest(data, h.upscaleEndpoint, h.token))
		if err != nil {
			return Output{}, err
		}
		input.GenerationID = id
		return Output{Input: input, Pending: true}, nil
	}

	img, err := h.fetchAndSave(ctx, input.toGenerationRequest(h.endpoint, h.token), input.Destination)
	if err != nil {
		return Output{}, err
	}
	return Output{Input: input, ContentType: img.ContentType, Bytes: len(img.Data)}, nil
}

// FetchAndSave generates one image and writes it to dest. The file is only
// touched once the remote service has answered with an image.
func (h *Handler) FetchAndSave(ctx context.Context, req image.GenerationRequest, dest string) error {
	_, err := h.fetchAndSave(ctx, req, dest)
	return err
}

func (h *Handler) fetchAndSave(ctx context.Context, req image.GenerationRequest, dest string) (image.Image, error) {
	img, err := h.generator.Generate(ctx, req)
	if err != nil {
		return image.Image{}, err
	}
	if err := h.save(ctx, img, dest); err != nil {
		return image.Image{}, err
	}
	return img, nil
}

// Upscale starts an upscale and returns the generation id to check later.
func (h *Handler) Upscale(ctx context.Context, req image.UpscaleRequest) (string, error) {
	return h.upscaler.Upscale(ctx, req)
}

// FetchResultAndSave checks an upscale once. While it is still running done
// is false and dest is not touched.
func (h *Handler) FetchResultAndSave(ctx context.Context, req image.ResultRequest, dest string) (bool, error) {
	_, done, err := h.fetchResultAndSave(ctx, req, dest)
	return done, err
}

func (h *Handler) fetchResultAndSave(ctx context.Context, req image.ResultRequest, dest string) (image.Image, bool, error) {
	img, done, err := h.upscaler.Result(ctx, req)
	if err != nil || !done {
		return image.Image{}, false, err
	}
	if err := h.save(ctx, img, dest); err != nil {
		return image.Image{}, false, err
	}
	return img, true, nil
}

func (h *Handler) save(ctx context.Context, img image.Image, dest string) error {
	return h.uploader.Upload(ctx, store.UploadParams{
		Name:        dest,
		Data:        img.Data,
		ContentType: img.ContentType,
	})
}

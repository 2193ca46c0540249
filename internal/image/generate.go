package image

import (
	"context"
	"fmt"
	"log/slog"
)

const DefaultEndpoint = "https://api.stability.ai/v2beta/stable-image/generate/ultra"

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

type Size struct {
	Width  int
	Height int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// GenerationRequest is forwarded to the remote service as is. The service
// decides whether the prompt, size and format are acceptable.
type GenerationRequest struct {
	Prompt       string
	Size         Size
	OutputFormat Format
	Endpoint     string
	AuthToken    string
}

// LogValue keeps the token out of log output.
func (r GenerationRequest) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("prompt", r.Prompt),
		slog.String("size", r.Size.String()),
		slog.String("output_format", string(r.OutputFormat)),
		slog.String("endpoint", r.Endpoint),
	)
}

type Image struct {
	Data        []byte
	ContentType string
}

type Generator interface {
	Generate(context.Context, GenerationRequest) (Image, error)
}

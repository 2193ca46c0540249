package image

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/dmorgan81/stableimage/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
)

type StabilityGenerator struct {
	Client    *http.Client
	UserAgent string
}

func NewStabilityGenerator(i *do.Injector) (Generator, error) {
	return &StabilityGenerator{
		Client:    do.MustInvoke[*http.Client](i),
		UserAgent: do.MustInvokeNamed[string](i, "user_agent"),
	}, nil
}

func (g *StabilityGenerator) Generate(ctx context.Context, req GenerationRequest) (Image, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("stability").With("request", req)
	log.Info("generating image")

	body, contentType, err := encodeForm([][2]string{
		{"prompt", req.Prompt},
		{"size", req.Size.String()},
		{"output_format", string(req.OutputFormat)},
	}, formFile{field: "none", name: "none"})
	if err != nil {
		return Image{}, err
	}

	httpReq, err := newRequest(ctx, http.MethodPost, req.Endpoint, body, req.AuthToken, g.UserAgent, "image/*")
	if err != nil {
		return Image{}, err
	}
	httpReq.Header.Set("Content-Type", contentType)

	status, header, data, err := roundTrip(g.Client, httpReq)
	if err != nil {
		return Image{}, err
	}

	if status != http.StatusOK {
		log.Warn("image generation rejected", "status", status)
		return Image{}, newFetchError(status, data)
	}

	ct := header.Get("Content-Type")
	log.Info("received image", "content-type", ct, "bytes", len(data))
	return Image{Data: data, ContentType: ct}, nil
}

type formFile struct {
	field string
	name  string
	data  []byte
}

// encodeForm writes fields in order followed by one file part. The endpoints
// only accept multipart bodies, so generation sends an empty file part.
func encodeForm(fields [][2]string, file formFile) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile(file.field, file.name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func newRequest(ctx context.Context, method, url string, body io.Reader, token, userAgent, accept string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", authorization(token))
	req.Header.Set("Accept", accept)
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	return req, nil
}

func roundTrip(client *http.Client, req *http.Request) (int, http.Header, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, data, nil
}

func authorization(token string) string {
	return lo.Ternary(strings.HasPrefix(token, "Bearer "), token, "Bearer "+token)
}

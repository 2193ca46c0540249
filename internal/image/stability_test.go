package image

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func generationRequest(endpoint string) GenerationRequest {
	return GenerationRequest{
		Prompt:       "a great dane on a beach",
		Size:         Size{Width: 1024, Height: 1024},
		OutputFormat: FormatJPEG,
		Endpoint:     endpoint,
		AuthToken:    "sk-test",
	}
}

func serve(t *testing.T, status int, contentType string, body []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestGenerateSendsMultipartForm(t *testing.T) {
	var (
		method, accept, auth, agent string
		fields                      map[string]string
		placeholders                int
		placeholderSize             int64 = -1
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		accept = r.Header.Get("Accept")
		auth = r.Header.Get("Authorization")
		agent = r.Header.Get("User-Agent")

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fields = map[string]string{
			"prompt":        r.FormValue("prompt"),
			"size":          r.FormValue("size"),
			"output_format": r.FormValue("output_format"),
		}
		files := r.MultipartForm.File["none"]
		placeholders = len(files)
		if len(files) == 1 {
			placeholderSize = files[0].Size
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	g := &StabilityGenerator{Client: server.Client(), UserAgent: "test-agent"}
	_, err := g.Generate(context.Background(), generationRequest(server.URL))
	require.NoError(t, err)

	require.Equal(t, http.MethodPost, method)
	require.Equal(t, "image/*", accept)
	require.Equal(t, "Bearer sk-test", auth)
	require.Equal(t, "test-agent", agent)
	require.Equal(t, map[string]string{
		"prompt":        "a great dane on a beach",
		"size":          "1024x1024",
		"output_format": "jpeg",
	}, fields)
	require.Equal(t, 1, placeholders)
	require.Zero(t, placeholderSize)
}

func TestGenerateForwardsUnvalidatedParams(t *testing.T) {
	var size, format string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		size = r.FormValue("size")
		format = r.FormValue("output_format")
	}))
	defer server.Close()

	req := generationRequest(server.URL)
	req.Size = Size{Width: -3, Height: 0}
	req.OutputFormat = Format("tiff")

	g := &StabilityGenerator{Client: server.Client()}
	_, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "-3x0", size)
	require.Equal(t, "tiff", format)
}

func TestGenerateReturnsExactBytes(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	server := serve(t, http.StatusOK, "image/jpeg", jpeg)

	g := &StabilityGenerator{Client: server.Client()}
	img, err := g.Generate(context.Background(), generationRequest(server.URL))
	require.NoError(t, err)
	require.Equal(t, jpeg, img.Data)
	require.Equal(t, "image/jpeg", img.ContentType)
}

func TestGenerateAcceptsEmptyBody(t *testing.T) {
	server := serve(t, http.StatusOK, "image/jpeg", nil)

	g := &StabilityGenerator{Client: server.Client()}
	img, err := g.Generate(context.Background(), generationRequest(server.URL))
	require.NoError(t, err)
	require.Empty(t, img.Data)
}

func TestGenerateRejections(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		contains string
		details  bool
	}{
		{"unprocessable", http.StatusUnprocessableEntity, `{"error":"bad prompt"}`, `{"error":"bad prompt"}`, true},
		{"bad request", http.StatusBadRequest, `{"errors":["invalid size"]}`, "invalid size", true},
		{"server error", http.StatusInternalServerError, `{"name":"internal_error"}`, "internal_error", true},
		{"html from proxy", http.StatusBadGateway, "<html>bad gateway</html>", "<html>bad gateway</html>", false},
		{
			"escapable characters and large ids", http.StatusBadRequest,
			`{"errors":["width & height must be <= 1536"],"id":12345678901234567891}`,
			`{"errors":["width & height must be <= 1536"],"id":12345678901234567891}`, true,
		},
		{
			"key order and whitespace", http.StatusBadRequest,
			"{\n  \"name\": \"bad_request\",\n  \"errors\": [\"invalid size\"]\n}",
			`{"name":"bad_request","errors":["invalid size"]}`, true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := serve(t, tt.status, "application/json", []byte(tt.body))

			g := &StabilityGenerator{Client: server.Client()}
			img, err := g.Generate(context.Background(), generationRequest(server.URL))
			require.Error(t, err)
			require.Empty(t, img.Data)
			require.Contains(t, err.Error(), tt.contains)

			var fe *FetchError
			require.True(t, errors.As(err, &fe))
			require.Equal(t, tt.status, fe.StatusCode)
			require.Equal(t, tt.body, fe.Body)
			require.Equal(t, tt.details, fe.Details != nil)
		})
	}
}

func TestGenerateTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	g := &StabilityGenerator{Client: http.DefaultClient}
	_, err := g.Generate(context.Background(), generationRequest(endpoint))
	require.Error(t, err)

	var fe *FetchError
	require.False(t, errors.As(err, &fe))
}

func TestAuthorization(t *testing.T) {
	require.Equal(t, "Bearer sk-abc", authorization("sk-abc"))
	require.Equal(t, "Bearer sk-abc", authorization("Bearer sk-abc"))
}

func TestFetchErrorMessage(t *testing.T) {
	err := newFetchError(http.StatusBadRequest, []byte(`{"errors":["a < b"]}`))
	require.Equal(t, `stability: 400 Bad Request: {"errors":["a < b"]}`, err.Error())
	require.Equal(t, map[string]any{"errors": []any{"a < b"}}, err.Details)
}

func TestFetchErrorKeepsLargeNumbers(t *testing.T) {
	err := newFetchError(http.StatusBadRequest, []byte(`{"id":12345678901234567891}`))
	details, ok := err.Details.(map[string]any)
	require.True(t, ok)
	require.Equal(t, json.Number("12345678901234567891"), details["id"])
}

func TestFetchErrorWithoutBody(t *testing.T) {
	err := newFetchError(http.StatusServiceUnavailable, nil)
	require.Nil(t, err.Details)
	require.Equal(t, "stability: 503 Service Unavailable", err.Error())
}

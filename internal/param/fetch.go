package param

import (
	"context"
	"fmt"
	"os"

	"github.com/dmorgan81/stableimage/internal/log"
)

type Fetcher interface {
	Fetch(context.Context, string) (string, error)
}

// EnvFetcher reads values straight from the process environment; the path is
// the variable name.
type EnvFetcher struct{}

func (EnvFetcher) Fetch(ctx context.Context, path string) (string, error) {
	log.FromContextOrDiscard(ctx).WithGroup("env").Info("fetching single parameter", "path", path)

	v, ok := os.LookupEnv(path)
	if !ok || v == "" {
		return "", fmt.Errorf("param: %s is not set", path)
	}
	return v, nil
}

package accounting

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"

	apperrors "github.com/duespark/collector-api/pkg/errors"
)

// StaticTokenProvider serves one API token for every owner. Deployments
// run one worker per tenant today; per-owner credential storage can slot in
// behind the TokenProvider interface without touching the client.
type StaticTokenProvider struct {
	token string
}

type tokenEnv struct {
	Token string `envconfig:"ACCOUNTING_API_TOKEN" required:"true"`
}

// NewStaticTokenProviderFromEnv reads ACCOUNTING_API_TOKEN.
func NewStaticTokenProviderFromEnv() (*StaticTokenProvider, error) {
	var env tokenEnv
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to load accounting token: %w", err)
	}
	return &StaticTokenProvider{token: env.Token}, nil
}

func (p *StaticTokenProvider) Token(_ context.Context, _ uuid.UUID) (string, error) {
	if p.token == "" {
		return "", apperrors.Config("accounting token not configured", nil)
	}
	return p.token, nil
}

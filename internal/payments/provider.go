package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"boxoffice/internal/shared/apperr"

	"github.com/google/uuid"
)

const ProviderManual = "manual"

type IntentInput struct {
	ReservationID uuid.UUID
	AmountCents   int64
	Currency      string
	ProviderRef   string
}

type IntentResult struct {
	Provider    string
	ProviderRef string
}

type WebhookInput struct {
	ProviderEventID string
	ProviderRef     string
	Status          Status
	Payload         []byte
	Signature       string
}

// Provider is the pluggable payment gateway.
type Provider interface {
	Name() string
	CreatePaymentIntent(ctx context.Context, input IntentInput) (IntentResult, error)
	SupportsSignatureVerification() bool
	VerifyWebhookSignature(ctx context.Context, input WebhookInput) (bool, error)
}

// Registry resolves providers by lower-cased name.
type Registry struct {
	providers       map[string]Provider
	defaultProvider string
}

func NewRegistry(defaultProvider string, providers ...Provider) *Registry {
	r := &Registry{
		providers:       make(map[string]Provider, len(providers)),
		defaultProvider: normalizeProvider(defaultProvider),
	}
	if r.defaultProvider == "" {
		r.defaultProvider = ProviderManual
	}
	for _, p := range providers {
		r.providers[normalizeProvider(p.Name())] = p
	}
	return r
}

// Get returns the named provider; an empty name selects the default one.
func (r *Registry) Get(name string) (Provider, error) {
	name = normalizeProvider(name)
	if name == "" {
		name = r.defaultProvider
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, apperr.Validation("unsupported_provider", fmt.Sprintf("Unsupported payment provider %q", name))
	}
	return p, nil
}

func normalizeProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ManualProvider settles payments out of band. Webhooks are signed with a
// shared secret; without one, every signature is accepted.
type ManualProvider struct {
	secret string
}

func NewManualProvider(secret string) *ManualProvider {
	return &ManualProvider{secret: secret}
}

func (p *ManualProvider) Name() string { return ProviderManual }

func (p *ManualProvider) CreatePaymentIntent(_ context.Context, input IntentInput) (IntentResult, error) {
	ref := strings.TrimSpace(input.ProviderRef)
	if ref == "" {
		ref = uuid.NewString()
	}
	return IntentResult{Provider: p.Name(), ProviderRef: ref}, nil
}

func (p *ManualProvider) SupportsSignatureVerification() bool {
	return p.secret != ""
}

func (p *ManualProvider) VerifyWebhookSignature(_ context.Context, input WebhookInput) (bool, error) {
	if p.secret == "" {
		return true, nil
	}
	if input.Signature == "" {
		return false, nil
	}
	expected := p.Sign(input.ProviderEventID, input.ProviderRef, input.Status)
	return hmac.Equal([]byte(expected), []byte(input.Signature)), nil
}

// Sign returns the hex HMAC-SHA256 of manual:<eventId>:<ref>:<status>.
func (p *ManualProvider) Sign(providerEventID, providerRef string, status Status) string {
	mac := hmac.New(sha256.New, []byte(p.secret))
	mac.Write([]byte(p.Name() + ":" + providerEventID + ":" + providerRef + ":" + string(status)))
	return hex.EncodeToString(mac.Sum(nil))
}

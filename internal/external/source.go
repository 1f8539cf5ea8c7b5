package external

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/pvpc-backend/internal/config"
	"github.com/kjannette/pvpc-backend/internal/models"
	"github.com/kjannette/pvpc-backend/internal/resilience"
)

const (
	userAgent    = "PVPC-Backend/1.0"
	maxBodyBytes = 4 << 20
)

var (
	ErrProviderUnavailable   = errors.New("all price providers failed")
	ErrInvalidProviderFormat = errors.New("invalid provider data format")
	ErrProviderNotConfigured = errors.New("no URL configured for provider")
)

// DroppedEntry is an upstream entry discarded during normalization.
type DroppedEntry struct {
	Raw    string
	Reason string
}

// TransformFunc turns a raw provider payload into normalized entries.
// Malformed entries are reported in dropped rather than failing the payload.
type TransformFunc func(body []byte) (entries []models.RawPriceEntry, dropped []DroppedEntry, err error)

// Provider describes one upstream price feed.
type Provider struct {
	Name        string
	URL         string
	APIKey      string
	BearerToken string
	Transform   TransformFunc
}

// ProvidersFromConfig returns the ordered provider list: REE first, then the alternate.
func ProvidersFromConfig(cfg *config.Config) []Provider {
	return []Provider{
		{
			Name:        "REE",
			URL:         cfg.REEAPIURL,
			APIKey:      cfg.REEAPIKey,
			BearerToken: cfg.REEBearerToken,
			Transform:   TransformREE,
		},
		{
			Name:        "ALTERNATIVE_API",
			URL:         cfg.AlternativeAPIURL,
			APIKey:      cfg.AlternativeAPIKey,
			BearerToken: cfg.AlternativeBearerToken,
			Transform:   TransformAlternative,
		},
	}
}

// Source fetches price data from an ordered list of providers.
type Source struct {
	providers  []Provider
	httpClient *http.Client
	log        zerolog.Logger
}

func NewSource(providers []Provider, timeout time.Duration, log zerolog.Logger) *Source {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Source{
		providers:  providers,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// FetchPriceData tries each provider in order and returns the first success.
// When every provider fails the error wraps ErrProviderUnavailable and each provider error.
func (s *Source) FetchPriceData(ctx context.Context) ([]models.RawPriceEntry, error) {
	errs := []error{ErrProviderUnavailable}

	for i, p := range s.providers {
		if i == 0 {
			s.log.Info().Str("provider", p.Name).Msg("fetching from primary provider")
		} else {
			s.log.Info().Str("provider", p.Name).Msg("trying fallback provider")
		}

		entries, err := s.fetchFrom(ctx, p)
		if err == nil {
			s.log.Info().Str("provider", p.Name).Int("entries", len(entries)).Msg("provider fetch succeeded")
			return entries, nil
		}
		s.log.Error().Err(err).Str("provider", p.Name).Msg("provider failed")
		errs = append(errs, err)
	}

	return nil, errors.Join(errs...)
}

func (s *Source) fetchFrom(ctx context.Context, p Provider) ([]models.RawPriceEntry, error) {
	if p.URL == "" {
		return nil, fmt.Errorf("%s: %w", p.Name, ErrProviderNotConfigured)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", p.Name, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if p.APIKey != "" {
		req.Header.Set("X-API-Key", p.APIKey)
	}
	if p.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.BearerToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", p.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s API error: %w", p.Name,
			&resilience.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", p.Name, err)
	}

	entries, dropped, err := p.Transform(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name, err)
	}
	for _, d := range dropped {
		s.log.Warn().Str("provider", p.Name).Str("entry", d.Raw).Str("reason", d.Reason).Msg("dropped malformed entry")
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%s: %w: no valid entries", p.Name, ErrInvalidProviderFormat)
	}
	return entries, nil
}

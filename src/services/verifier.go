package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// VerificationResult is the provider's verdict on a one-time token.
type VerificationResult struct {
	Valid bool `json:"valid"`
}

// TokenVerifier checks a funnel token with the external task provider.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (VerificationResult, error)
}

// WorkinkVerifier calls the work.ink token endpoint. The token is consumed on
// the provider side (deleteToken=1), so each token verifies at most once.
type WorkinkVerifier struct {
	baseURL    string
	httpClient *http.Client
}

// NewWorkinkVerifier creates a verifier against baseURL, e.g.
// https://work.ink/_api/v2/token/isValid
func NewWorkinkVerifier(baseURL string) *WorkinkVerifier {
	return &WorkinkVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Verify asks the provider whether token is valid.
func (v *WorkinkVerifier) Verify(ctx context.Context, token string) (VerificationResult, error) {
	endpoint := fmt.Sprintf("%s/%s?deleteToken=1&forbiddenOnFail=0", v.baseURL, url.PathEscape(token))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return VerificationResult{}, fmt.Errorf("%w: status %d", ErrVerifierUnavailable, resp.StatusCode)
	}

	var result VerificationResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&result); err != nil {
		return VerificationResult{}, fmt.Errorf("%w: decode: %v", ErrVerifierUnavailable, err)
	}
	return result, nil
}

// Package captcha verifies bot-mitigation tokens before a code is sent.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"otp-signin/signin"
)

// DefaultVerifyURL is Cloudflare Turnstile's siteverify endpoint.
const DefaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

var (
	ErrMissingToken = errors.New("captcha token missing")
	ErrRejected     = errors.New("captcha token rejected")
	ErrUnavailable  = errors.New("captcha verification unavailable")
)

// Verifier checks a challenge token.
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// Disabled accepts any non-empty token. Meant for local development
// without a Turnstile secret.
type Disabled struct{}

func (Disabled) Verify(_ context.Context, token, _ string) error {
	if strings.TrimSpace(token) == "" {
		return ErrMissingToken
	}
	return nil
}

// Turnstile verifies tokens against the siteverify API.
type Turnstile struct {
	secret     string
	verifyURL  string
	httpClient *http.Client
}

// NewTurnstile creates a Turnstile verifier. An empty verifyURL uses DefaultVerifyURL.
func NewTurnstile(secret, verifyURL string) *Turnstile {
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	return &Turnstile{
		secret:     secret,
		verifyURL:  verifyURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Hostname   string   `json:"hostname"`
}

func (t *Turnstile) Verify(ctx context.Context, token, remoteIP string) error {
	if strings.TrimSpace(token) == "" {
		return ErrMissingToken
	}

	form := url.Values{}
	form.Set("secret", t.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: siteverify status %d", ErrUnavailable, resp.StatusCode)
	}

	var body siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !body.Success {
		return fmt.Errorf("%w: %s", ErrRejected, strings.Join(body.ErrorCodes, ","))
	}
	return nil
}

// Guard checks the captcha token before handing the request to the
// wrapped action. A failed check becomes an error result.
type Guard struct {
	verifier Verifier
	next     signin.Actions
	logger   *slog.Logger
}

// NewGuard wraps next so that SendCode requires a verified captcha token.
func NewGuard(verifier Verifier, next signin.Actions, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{verifier: verifier, next: next, logger: logger}
}

func (g *Guard) SendCode(ctx context.Context, req signin.EmailRequest) signin.EmailResult {
	if err := g.verifier.Verify(ctx, req.CaptchaToken, req.RemoteIP); err != nil {
		g.logger.WarnContext(ctx, "captcha verification failed", "error", err)
		if errors.Is(err, ErrUnavailable) {
			return signin.EmailResult{Error: "We could not verify that you are human. Please try again later."}
		}
		return signin.EmailResult{Error: "Captcha verification failed. Please reload the page and try again."}
	}
	return g.next.SendCode(ctx, req)
}

func (g *Guard) Verify(ctx context.Context, req signin.OtpRequest) signin.OtpResult {
	return g.next.Verify(ctx, req)
}

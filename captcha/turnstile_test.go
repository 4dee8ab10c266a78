package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"otp-signin/signin"
)

func newSiteverify(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *Turnstile {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return NewTurnstile("secret", srv.URL)
}

func TestTurnstileVerify(t *testing.T) {
	var got struct{ secret, response, remoteIP string }
	ts := newSiteverify(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		got.secret = r.PostForm.Get("secret")
		got.response = r.PostForm.Get("response")
		got.remoteIP = r.PostForm.Get("remoteip")

		success := got.response == "good"
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":     success,
			"error-codes": []string{"invalid-input-response"},
		})
	})

	if err := ts.Verify(context.Background(), "good", "10.0.0.1"); err != nil {
		t.Fatalf("verify good token: %v", err)
	}
	if got.secret != "secret" || got.response != "good" || got.remoteIP != "10.0.0.1" {
		t.Fatalf("siteverify got %+v", got)
	}

	if err := ts.Verify(context.Background(), "bad", ""); !errors.Is(err, ErrRejected) {
		t.Fatalf("err=%v want ErrRejected", err)
	}
	if err := ts.Verify(context.Background(), " ", ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("err=%v want ErrMissingToken", err)
	}
}

func TestTurnstileUnavailable(t *testing.T) {
	ts := newSiteverify(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	if err := ts.Verify(context.Background(), "tok", ""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err=%v want ErrUnavailable", err)
	}
}

type stubVerifier struct{ err error }

func (s stubVerifier) Verify(context.Context, string, string) error { return s.err }

type stubActions struct{ sent, verified int }

func (s *stubActions) SendCode(_ context.Context, req signin.EmailRequest) signin.EmailResult {
	s.sent++
	return signin.EmailResult{Success: true, Email: req.Email}
}

func (s *stubActions) Verify(context.Context, signin.OtpRequest) signin.OtpResult {
	s.verified++
	return signin.OtpResult{SessionToken: "sess"}
}

func TestGuard(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cases := []struct {
		name     string
		err      error
		wantSent int
		wantErr  bool
	}{
		{name: "verified", wantSent: 1},
		{name: "rejected", err: ErrRejected, wantErr: true},
		{name: "unavailable", err: ErrUnavailable, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next := &stubActions{}
			g := NewGuard(stubVerifier{err: tc.err}, next, logger)

			res := g.SendCode(context.Background(), signin.EmailRequest{Email: "a@b.com", CaptchaToken: "tok"})
			if next.sent != tc.wantSent {
				t.Fatalf("sent=%d want %d", next.sent, tc.wantSent)
			}
			if tc.wantErr == (res.Error == "") || tc.wantErr == res.Success {
				t.Fatalf("result=%+v", res)
			}

			// Verify is never gated.
			if out := g.Verify(context.Background(), signin.OtpRequest{}); !out.Verified() || next.verified != 1 {
				t.Fatalf("verify passthrough: %+v", out)
			}
		})
	}
}

func TestDisabledRequiresToken(t *testing.T) {
	if err := (Disabled{}).Verify(context.Background(), "", ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("err=%v", err)
	}
	if err := (Disabled{}).Verify(context.Background(), "anything", ""); err != nil {
		t.Fatalf("err=%v", err)
	}
}

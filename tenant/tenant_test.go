package tenant

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolverMiddleware(t *testing.T) {
	res := NewResolver([]string{"Coach.Example.com", " ", "coaching.local:8080"})

	cases := []struct {
		host         string
		wantCoaching bool
	}{
		{host: "coach.example.com", wantCoaching: true},
		{host: "COACH.example.com:443", wantCoaching: true},
		{host: "coaching.local", wantCoaching: true},
		{host: "app.example.com", wantCoaching: false},
	}
	for _, tc := range cases {
		var got Context
		h := res.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			got = FromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/sign-in", nil)
		req.Host = tc.host
		h.ServeHTTP(httptest.NewRecorder(), req)

		if got.Coaching != tc.wantCoaching {
			t.Fatalf("host %q coaching=%v want %v", tc.host, got.Coaching, tc.wantCoaching)
		}
	}
}

func TestDefaultRedirect(t *testing.T) {
	if got := (Context{Coaching: true}).DefaultRedirect(); got != CoachingRedirect {
		t.Fatalf("coaching redirect=%q", got)
	}
	if got := (Context{}).DefaultRedirect(); got != "" {
		t.Fatalf("default redirect=%q want empty", got)
	}
	if FromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()).Coaching {
		t.Fatal("zero tenant expected without middleware")
	}
}

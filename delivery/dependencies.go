package delivery

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	ory "github.com/ory/client-go"

	"otp-signin/flowtoken"
	"otp-signin/locale"
	"otp-signin/signin"
)

// Settings is the slice of configuration the handlers need.
type Settings struct {
	TurnstileSiteKey string
	CookieSecure     bool
	FlowTTL          time.Duration
	AfterLoginPath   string
}

// AppDependencies defines the contract that the delivery layer (HTTP handlers)
// expects from the core application layer.
type AppDependencies interface {
	SignInFlow() *signin.Flow
	FlowTokens() *flowtoken.Codec
	Translator() *locale.Translator
	Settings() Settings
	Logger() *slog.Logger

	// TenantMiddleware attaches the tenant of the request host.
	TenantMiddleware(next http.Handler) http.Handler

	// SessionMiddleware provides the middleware to protect routes.
	SessionMiddleware(next http.Handler) http.Handler

	GetSessionFromContext(ctx context.Context) (*ory.Session, bool)

	RevokeSession(ctx context.Context, token string) error

	MetricsHandler() http.Handler
}

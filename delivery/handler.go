package delivery

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"otp-signin/locale"
	"otp-signin/signin"
	"otp-signin/tenant"
)

const (
	// FlowCookieName carries the signed flow token of the browser's sign-in flow.
	FlowCookieName = "signin_flow"
	// SessionCookieName carries the Kratos session token once signed in.
	SessionCookieName = "signin_session"
)

// HTTPEndpoint holds a reference to the core application.
type HTTPEndpoint struct {
	app AppDependencies
}

type errorPageData struct {
	L     *locale.Localizer
	Error struct {
		ID     string
		Reason string
	}
}

func (h *HTTPEndpoint) homeHandler(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/sign-in", http.StatusSeeOther)
}

func (h *HTTPEndpoint) healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (h *HTTPEndpoint) errorHandler(w http.ResponseWriter, r *http.Request) {
	data := errorPageData{L: h.localizer(r)}
	data.Error.ID = r.URL.Query().Get("id")
	data.Error.Reason = r.URL.Query().Get("reason")
	if data.Error.Reason == "" {
		data.Error.Reason = data.L.T("errorReason")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	if err := errorTemplate.ExecuteTemplate(w, "error.html", data); err != nil {
		// Headers are gone; the best we can do is log.
		h.app.Logger().ErrorContext(r.Context(), "render error page", "error", err)
	}
}

// redirectToError sends the browser to the error page with a reason.
func (h *HTTPEndpoint) redirectToError(w http.ResponseWriter, r *http.Request, reason string, err error) {
	h.app.Logger().ErrorContext(r.Context(), reason, "error", err, "path", r.URL.Path)
	http.Redirect(w, r, "/error?reason="+url.QueryEscape(reason), http.StatusSeeOther)
}

// localizer picks the request language from ?lang= and then Accept-Language.
func (h *HTTPEndpoint) localizer(r *http.Request) *locale.Localizer {
	return h.app.Translator().For(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"))
}

// flowID reads the flow ID out of the signed flow cookie.
func (h *HTTPEndpoint) flowID(r *http.Request) (string, bool) {
	c, err := r.Cookie(FlowCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	id, err := h.app.FlowTokens().Parse(r.Context(), c.Value)
	if err != nil {
		h.app.Logger().DebugContext(r.Context(), "flow cookie rejected", "error", err)
		return "", false
	}
	return id, true
}

// loadOrStartFlow returns the flow of the cookie, or starts a new one and
// sets the cookie when there is none or it expired.
func (h *HTTPEndpoint) loadOrStartFlow(w http.ResponseWriter, r *http.Request, redirectTo string) (string, signin.State, error) {
	if id, ok := h.flowID(r); ok {
		st, err := h.app.SignInFlow().Load(r.Context(), id)
		if err == nil {
			return id, st, nil
		}
		if !errors.Is(err, signin.ErrFlowNotFound) {
			return "", signin.State{}, err
		}
	}

	id, st, err := h.app.SignInFlow().Start(r.Context(), redirectTo)
	if err != nil {
		return "", signin.State{}, err
	}
	token, err := h.app.FlowTokens().Sign(r.Context(), id)
	if err != nil {
		return "", signin.State{}, err
	}
	h.setCookie(w, FlowCookieName, token, int(h.app.Settings().FlowTTL.Seconds()))
	return id, st, nil
}

func (h *HTTPEndpoint) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.app.Settings().CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *HTTPEndpoint) clearCookie(w http.ResponseWriter, name string) {
	h.setCookie(w, name, "", -1)
}

// redirectTarget resolves where a signed-in user goes next: the requested
// target, the tenant default, then the configured landing page.
func (h *HTTPEndpoint) redirectTarget(r *http.Request, requested string) string {
	if target := sanitizeRedirect(requested); target != "" {
		return target
	}
	if target := tenant.FromContext(r.Context()).DefaultRedirect(); target != "" {
		return target
	}
	if target := sanitizeRedirect(h.app.Settings().AfterLoginPath); target != "" {
		return target
	}
	return "/"
}

// sanitizeRedirect keeps only same-site relative paths. Anything else is
// dropped to the empty string.
func sanitizeRedirect(target string) string {
	target = strings.TrimSpace(target)
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.ContainsAny(target, "\\\r\n") {
		return ""
	}
	u, err := url.Parse(target)
	if err != nil || u.IsAbs() || u.Host != "" {
		return ""
	}
	return u.RequestURI()
}

// remoteIP is the client address as set by chi's RealIP middleware.
func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func logFlow(l *slog.Logger, r *http.Request, msg, id string, st signin.State) {
	l.InfoContext(r.Context(), msg, "flow_id", id, "phase", st.Phase)
}

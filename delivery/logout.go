package delivery

import (
	"net/http"
)

// logoutHandler revokes the Kratos session behind the session cookie and
// sends the browser back to the sign-in page.
func (h *HTTPEndpoint) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		if err := h.app.RevokeSession(r.Context(), c.Value); err != nil {
			// The cookie goes either way; a dangling session expires on its own.
			h.app.Logger().WarnContext(r.Context(), "revoke session", "error", err)
		}
	}
	h.clearCookie(w, SessionCookieName)
	http.Redirect(w, r, "/sign-in", http.StatusSeeOther)
}

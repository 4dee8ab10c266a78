package delivery

import (
	"encoding/json"
	"net/http"

	ory "github.com/ory/client-go"

	"otp-signin/delivery/model"
	"otp-signin/kratos"
	"otp-signin/locale"
)

// dashboardPageData holds the data that will be passed to the dashboard template.
type dashboardPageData struct {
	L          *locale.Localizer
	Session    *ory.Session
	SignedInAs string
}

func (h *HTTPEndpoint) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := h.app.GetSessionFromContext(r.Context())
	if !ok {
		// Only reachable if the route lost its session middleware.
		h.app.Logger().ErrorContext(r.Context(), "dashboard: session not found in context")
		http.Redirect(w, r, "/sign-in", http.StatusSeeOther)
		return
	}

	l := h.localizer(r)
	data := dashboardPageData{
		L:          l,
		Session:    session,
		SignedInAs: l.T("signedInAs", map[string]any{"Email": kratos.IdentityEmail(session)}),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTemplate.ExecuteTemplate(w, "dashboard.html", data); err != nil {
		h.app.Logger().ErrorContext(r.Context(), "render dashboard", "error", err)
		http.Error(w, "Could not render the dashboard.", http.StatusInternalServerError)
	}
}

// whoamiHandler is the JSON view of the current session for API clients.
func (h *HTTPEndpoint) whoamiHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := h.app.GetSessionFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusInternalServerError, model.ErrorResponse{Error: "session not found in context"})
		return
	}

	resp := model.SessionResponse{
		SessionID: session.GetId(),
		Email:     kratos.IdentityEmail(session),
	}
	if identity, ok := session.GetIdentityOk(); ok {
		resp.IdentityID = identity.GetId()
	}
	if exp, ok := session.GetExpiresAtOk(); ok {
		resp.ExpiresAt = exp.UTC().Format(timeLayout)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

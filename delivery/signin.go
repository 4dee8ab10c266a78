package delivery

import (
	"errors"
	"net/http"
	"strings"

	"otp-signin/codeinput"
	"otp-signin/locale"
	"otp-signin/signin"
)

// devCaptchaToken stands in for the challenge token when no Turnstile site
// key is configured, so the email form is usable in development.
const devCaptchaToken = "captcha-disabled"

// signInPageData holds the data that will be passed to the sign-in template.
type signInPageData struct {
	L              *locale.Localizer
	OtpPhase       bool
	Message        *signin.Message
	RedirectTo     string
	SiteKey        string
	ShowCaptcha    bool
	CaptchaToken   string
	EmailValue     string
	EmailDisabled  bool
	EmailPending   bool
	Email          string
	OtpDescription string
	OtpDisabled    bool
	OtpPending     bool
	Code           *codeinput.Input
}

func (h *HTTPEndpoint) newSignInPage(r *http.Request, st signin.State) signInPageData {
	l := h.localizer(r)
	siteKey := h.app.Settings().TurnstileSiteKey
	return signInPageData{
		L:              l,
		OtpPhase:       st.Phase == signin.PhaseOTP,
		Message:        st.Message(),
		RedirectTo:     st.RedirectTo,
		SiteKey:        siteKey,
		ShowCaptcha:    siteKey != "" && st.Phase == signin.PhaseEmail,
		CaptchaToken:   st.CaptchaToken,
		EmailValue:     st.Email.Result.Email,
		EmailDisabled:  st.EmailSubmitDisabled(),
		EmailPending:   st.Email.Pending,
		Email:          st.ConfirmedEmail(),
		OtpDescription: l.T("otpDescription", map[string]any{"Email": st.ConfirmedEmail()}),
		OtpDisabled:    st.OtpSubmitDisabled(),
		OtpPending:     st.Otp.Pending,
		Code:           codeinput.MustNew(codeinput.Config{ID: "code"}),
	}
}

// signInHandler renders the form of the flow's current phase, starting a
// flow when the browser has none.
func (h *HTTPEndpoint) signInHandler(w http.ResponseWriter, r *http.Request) {
	id, st, err := h.loadOrStartFlow(w, r, sanitizeRedirect(r.URL.Query().Get("redirect")))
	if err != nil {
		h.redirectToError(w, r, "Could not start the sign-in flow.", err)
		return
	}

	if h.app.Settings().TurnstileSiteKey == "" && st.CaptchaToken == "" {
		if st, err = h.app.SignInFlow().CaptchaSucceeded(r.Context(), id, devCaptchaToken); err != nil {
			h.redirectToError(w, r, "Could not start the sign-in flow.", err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := signInTemplate.ExecuteTemplate(w, "signin.html", h.newSignInPage(r, st)); err != nil {
		h.app.Logger().ErrorContext(r.Context(), "render sign-in page", "error", err)
	}
}

// captchaHandler records the challenge token reported by the widget.
func (h *HTTPEndpoint) captchaHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.postedFlow(w, r)
	if !ok {
		return
	}
	if _, err := h.app.SignInFlow().CaptchaSucceeded(r.Context(), id, captchaToken(r)); err != nil {
		h.flowFailed(w, r, err)
		return
	}
	http.Redirect(w, r, "/sign-in", http.StatusSeeOther)
}

// emailHandler submits the email form and sends the code.
func (h *HTTPEndpoint) emailHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.postedFlow(w, r)
	if !ok {
		return
	}

	flow := h.app.SignInFlow()
	token := captchaToken(r)
	// The widget callback and the form post race; the form may carry the
	// token before the captcha endpoint stored it.
	if token != "" {
		if _, err := flow.CaptchaSucceeded(r.Context(), id, token); err != nil {
			h.flowFailed(w, r, err)
			return
		}
	}

	st, err := flow.SubmitEmail(r.Context(), id, signin.EmailForm{
		Email:        r.PostForm.Get("email"),
		CaptchaToken: token,
		RedirectTo:   sanitizeRedirect(r.PostForm.Get("redirectTo")),
		RemoteIP:     remoteIP(r),
	})
	if err != nil {
		h.flowFailed(w, r, err)
		return
	}
	logFlow(h.app.Logger(), r, "email submitted", id, st)
	http.Redirect(w, r, "/sign-in", http.StatusSeeOther)
}

// otpHandler submits the code form. The slots are fed through the code
// widget; a completed code submits on completion, a partial one only
// because the user pressed the button.
func (h *HTTPEndpoint) otpHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.postedFlow(w, r)
	if !ok {
		return
	}

	var (
		st        signin.State
		err       error
		submitted bool
	)
	form := signin.OtpForm{
		Email:      r.PostForm.Get("email"),
		RedirectTo: sanitizeRedirect(r.PostForm.Get("redirectTo")),
	}
	submit := func(code string) {
		submitted = true
		form.Token = code
		st, err = h.app.SignInFlow().SubmitOtp(r.Context(), id, form)
	}

	input := codeinput.MustNew(codeinput.Config{ID: "code", OnComplete: submit})
	input.Paste(0, strings.Join(r.PostForm[input.Name()], ""))
	if !submitted {
		submit(input.Value())
	}
	if err != nil {
		h.flowFailed(w, r, err)
		return
	}

	if !st.Otp.Result.Verified() {
		logFlow(h.app.Logger(), r, "code rejected", id, st)
		http.Redirect(w, r, "/sign-in", http.StatusSeeOther)
		return
	}

	h.setCookie(w, SessionCookieName, st.Otp.Result.SessionToken, 0)
	h.clearCookie(w, FlowCookieName)
	if err := h.app.SignInFlow().Finish(r.Context(), id); err != nil {
		h.app.Logger().WarnContext(r.Context(), "discard finished flow", "flow_id", id, "error", err)
	}

	requested := form.RedirectTo
	if requested == "" {
		requested = st.RedirectTo
	}
	logFlow(h.app.Logger(), r, "signed in", id, st)
	http.Redirect(w, r, h.redirectTarget(r, requested), http.StatusSeeOther)
}

// backHandler returns the flow to the email form.
func (h *HTTPEndpoint) backHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.postedFlow(w, r)
	if !ok {
		return
	}
	if _, err := h.app.SignInFlow().GoBack(r.Context(), id); err != nil {
		h.flowFailed(w, r, err)
		return
	}
	http.Redirect(w, r, "/sign-in", http.StatusSeeOther)
}

// postedFlow parses the form and resolves the flow of the cookie. Without a
// usable cookie the browser is sent back to start over.
func (h *HTTPEndpoint) postedFlow(w http.ResponseWriter, r *http.Request) (string, bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return "", false
	}
	id, ok := h.flowID(r)
	if !ok {
		http.Redirect(w, r, "/sign-in", http.StatusSeeOther)
		return "", false
	}
	return id, true
}

// flowFailed maps flow errors to a browser response. Rejected submissions
// simply re-render the current state.
func (h *HTTPEndpoint) flowFailed(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, signin.ErrFlowNotFound):
		h.clearCookie(w, FlowCookieName)
		http.Redirect(w, r, "/sign-in", http.StatusSeeOther)
	case errors.Is(err, signin.ErrSubmissionPending),
		errors.Is(err, signin.ErrCaptchaRequired),
		errors.Is(err, signin.ErrWrongPhase):
		http.Redirect(w, r, "/sign-in", http.StatusSeeOther)
	default:
		h.redirectToError(w, r, "The sign-in service is unavailable.", err)
	}
}

// captchaToken reads the challenge token from the field the Turnstile
// widget injects, falling back to our hidden field. The widget's value is
// the newest one; the hidden field may still hold a token already spent.
func captchaToken(r *http.Request) string {
	if t := strings.TrimSpace(r.PostForm.Get("cf-turnstile-response")); t != "" {
		return t
	}
	return strings.TrimSpace(r.PostForm.Get("captchaToken"))
}

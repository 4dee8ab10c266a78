package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"otp-signin/codeinput"
	"otp-signin/delivery/model"
	"otp-signin/signin"
)

const timeLayout = time.RFC3339

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// startFlowAPIHandler opens a flow for a native client and returns its token.
func (h *HTTPEndpoint) startFlowAPIHandler(w http.ResponseWriter, r *http.Request) {
	var req model.StartFlowRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	flow := h.app.SignInFlow()
	id, st, err := flow.Start(r.Context(), sanitizeRedirect(req.RedirectTo))
	if err != nil {
		h.apiFlowFailed(w, r, err)
		return
	}
	if h.app.Settings().TurnstileSiteKey == "" {
		if st, err = flow.CaptchaSucceeded(r.Context(), id, devCaptchaToken); err != nil {
			h.apiFlowFailed(w, r, err)
			return
		}
	}

	resp, err := h.flowResponse(r.Context(), id, st)
	if err != nil {
		h.apiFlowFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// submitEmailAPIHandler is the JSON counterpart of the email form.
func (h *HTTPEndpoint) submitEmailAPIHandler(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitEmailRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	id, ok := h.apiFlowID(w, r, req.FlowToken)
	if !ok {
		return
	}

	flow := h.app.SignInFlow()
	if req.CaptchaToken != "" {
		if _, err := flow.CaptchaSucceeded(r.Context(), id, req.CaptchaToken); err != nil {
			h.apiFlowFailed(w, r, err)
			return
		}
	}

	st, err := flow.SubmitEmail(r.Context(), id, signin.EmailForm{
		Email:        req.Email,
		CaptchaToken: req.CaptchaToken,
		RedirectTo:   sanitizeRedirect(req.RedirectTo),
		RemoteIP:     remoteIP(r),
	})
	if err != nil {
		h.apiFlowFailed(w, r, err)
		return
	}

	resp, err := h.flowResponse(r.Context(), id, st)
	if err != nil {
		h.apiFlowFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// submitOtpAPIHandler verifies a code and hands the session token to the
// client. The flow is discarded once verified.
func (h *HTTPEndpoint) submitOtpAPIHandler(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitOtpRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	id, ok := h.apiFlowID(w, r, req.FlowToken)
	if !ok {
		return
	}

	code, err := codeinput.MustNew(codeinput.Config{}).Validate(req.Code)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: "invalid_code", Message: "code must be 6 digits"})
		return
	}

	st, err := h.app.SignInFlow().SubmitOtp(r.Context(), id, signin.OtpForm{
		Email:      req.Email,
		Token:      code,
		RedirectTo: sanitizeRedirect(req.RedirectTo),
	})
	if err != nil {
		h.apiFlowFailed(w, r, err)
		return
	}

	if !st.Otp.Result.Verified() {
		resp, err := h.flowResponse(r.Context(), id, st)
		if err != nil {
			h.apiFlowFailed(w, r, err)
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	if err := h.app.SignInFlow().Finish(r.Context(), id); err != nil {
		h.app.Logger().WarnContext(r.Context(), "discard finished flow", "flow_id", id, "error", err)
	}
	requested := sanitizeRedirect(req.RedirectTo)
	if requested == "" {
		requested = st.RedirectTo
	}
	writeJSON(w, http.StatusOK, model.SubmitOtpResponse{
		SessionToken: st.Otp.Result.SessionToken,
		RedirectTo:   h.redirectTarget(r, requested),
	})
}

func (h *HTTPEndpoint) flowResponse(ctx context.Context, id string, st signin.State) (model.FlowResponse, error) {
	token, err := h.app.FlowTokens().Sign(ctx, id)
	if err != nil {
		return model.FlowResponse{}, err
	}
	resp := model.FlowResponse{
		FlowToken:     token,
		Phase:         string(st.Phase),
		Email:         st.ConfirmedEmail(),
		EmailDisabled: st.EmailSubmitDisabled(),
		OtpDisabled:   st.OtpSubmitDisabled(),
	}
	if msg := st.Message(); msg != nil {
		resp.Error = msg.Error
	}
	return resp, nil
}

func (h *HTTPEndpoint) apiFlowID(w http.ResponseWriter, r *http.Request, token string) (string, bool) {
	if token == "" {
		writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: "flow_token_required"})
		return "", false
	}
	id, err := h.app.FlowTokens().Parse(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, model.ErrorResponse{Error: "invalid_flow_token", Message: "Start a new sign-in flow."})
		return "", false
	}
	return id, true
}

func (h *HTTPEndpoint) apiFlowFailed(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, signin.ErrFlowNotFound):
		writeJSON(w, http.StatusNotFound, model.ErrorResponse{Error: "flow_not_found", Message: "Start a new sign-in flow."})
	case errors.Is(err, signin.ErrSubmissionPending):
		writeJSON(w, http.StatusConflict, model.ErrorResponse{Error: "submission_pending"})
	case errors.Is(err, signin.ErrWrongPhase):
		writeJSON(w, http.StatusConflict, model.ErrorResponse{Error: "wrong_phase"})
	case errors.Is(err, signin.ErrCaptchaRequired):
		writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: "captcha_required"})
	default:
		h.app.Logger().ErrorContext(r.Context(), "sign-in api failure", "error", err, "path", r.URL.Path)
		writeJSON(w, http.StatusServiceUnavailable, model.ErrorResponse{Error: "an internal server error occurred"})
	}
}

// decodeJSON reads a size-limited JSON body into v. An empty body is
// accepted when optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: "invalid request body"})
	return false
}

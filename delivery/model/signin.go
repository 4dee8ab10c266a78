package model

// StartFlowRequest opens a sign-in flow for a native client.
type StartFlowRequest struct {
	RedirectTo string `json:"redirectTo"`
}

// FlowResponse describes a flow after every API call. FlowToken must be sent
// back with the next request.
type FlowResponse struct {
	FlowToken     string `json:"flowToken"`
	Phase         string `json:"phase"`
	Email         string `json:"email,omitempty"`
	Error         string `json:"error,omitempty"`
	EmailDisabled bool   `json:"emailDisabled"`
	OtpDisabled   bool   `json:"otpDisabled"`
}

type (
	SubmitEmailRequest struct {
		FlowToken    string `json:"flowToken"`
		Email        string `json:"email"`
		CaptchaToken string `json:"captchaToken"`
		RedirectTo   string `json:"redirectTo"`
	}

	SubmitOtpRequest struct {
		FlowToken  string `json:"flowToken"`
		Email      string `json:"email"`
		Code       string `json:"code"`
		RedirectTo string `json:"redirectTo"`
	}

	SubmitOtpResponse struct {
		SessionToken string `json:"sessionToken"`
		RedirectTo   string `json:"redirectTo"`
	}
)

// SessionResponse is the JSON view of a Kratos session.
type SessionResponse struct {
	SessionID  string `json:"sessionId"`
	IdentityID string `json:"identityId,omitempty"`
	Email      string `json:"email,omitempty"`
	ExpiresAt  string `json:"expiresAt,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

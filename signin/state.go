// Package signin hosts the two-phase email / one-time-code sign-in flow:
// the phase state machine, the per-step submission slots, and the
// persistence of flow records between browser requests.
package signin

import "time"

// Phase is the step of the sign-in flow currently presented to the user.
type Phase string

const (
	PhaseEmail Phase = "email"
	PhaseOTP   Phase = "otp"
)

// EmailResult is the outcome of the email-send action.
type EmailResult struct {
	Success bool   `json:"success"`
	Email   string `json:"email"`
	Error   string `json:"error,omitempty"`
	// FlowRef references the remote challenge the code was issued for.
	FlowRef string `json:"flowRef,omitempty"`
}

// OtpResult is the outcome of the verify action. A non-empty SessionToken
// means the code was accepted.
type OtpResult struct {
	Error        string `json:"error,omitempty"`
	SessionToken string `json:"sessionToken,omitempty"`
}

// Verified reports whether the verify action accepted the code.
func (r OtpResult) Verified() bool {
	return r.Error == "" && r.SessionToken != ""
}

// Submission is the owned record of one asynchronous step: the last result
// and whether an action is in flight.
type Submission[R any] struct {
	Result    R         `json:"result"`
	Pending   bool      `json:"pending"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// Message is the banner shown under the active form.
type Message struct {
	Error string `json:"error"`
}

// State is everything the flow remembers about one browser between requests.
type State struct {
	Phase        Phase                   `json:"phase"`
	CaptchaToken string                  `json:"captchaToken,omitempty"`
	Email        Submission[EmailResult] `json:"email"`
	Otp          Submission[OtpResult]   `json:"otp"`
	RedirectTo   string                  `json:"redirectTo,omitempty"`
}

// NewState returns the state of a freshly rendered flow.
func NewState(redirectTo string) State {
	return State{Phase: PhaseEmail, RedirectTo: redirectTo}
}

// Message derives the banner from the result belonging to the active phase.
func (s State) Message() *Message {
	var errText string
	if s.Phase == PhaseOTP {
		errText = s.Otp.Result.Error
	} else {
		errText = s.Email.Result.Error
	}
	if errText == "" {
		return nil
	}
	return &Message{Error: errText}
}

// EmailSubmitDisabled reports whether the email form's submit control is disabled.
func (s State) EmailSubmitDisabled() bool {
	return s.CaptchaToken == "" || s.Email.Pending
}

// OtpSubmitDisabled reports whether the code form's submit control is disabled.
func (s State) OtpSubmitDisabled() bool {
	return s.Otp.Pending
}

// ConfirmedEmail is the address the code was sent to, carried by the code form.
func (s State) ConfirmedEmail() string {
	return s.Email.Result.Email
}

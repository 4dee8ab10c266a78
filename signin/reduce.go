package signin

import "time"

// Event is an input to Reduce.
type Event interface {
	isEvent()
}

// CaptchaSucceeded records the token reported by the challenge widget.
type CaptchaSucceeded struct {
	Token string
}

// EmailSubmitStarted marks the email-send action as in flight.
type EmailSubmitStarted struct {
	At time.Time
}

// EmailSubmitted carries the result of the email-send action.
type EmailSubmitted struct {
	Result EmailResult
}

// OtpSubmitStarted marks the verify action as in flight.
type OtpSubmitStarted struct {
	At time.Time
}

// OtpSubmitted carries the result of the verify action.
type OtpSubmitted struct {
	Result OtpResult
}

// BackRequested is the user's "back to email" action.
type BackRequested struct{}

func (CaptchaSucceeded) isEvent()   {}
func (EmailSubmitStarted) isEvent() {}
func (EmailSubmitted) isEvent()     {}
func (OtpSubmitStarted) isEvent()   {}
func (OtpSubmitted) isEvent()       {}
func (BackRequested) isEvent()      {}

// Reduce applies one event to the state and returns the new state.
//
// A successful email result moves the flow to the code phase. A verify
// result never changes the phase; the host navigates away on success.
// Going back keeps the captcha token and the last email result.
// Results are applied whatever the current phase is, so a result that
// resolves after the user went back still lands.
func Reduce(s State, ev Event) State {
	switch e := ev.(type) {
	case CaptchaSucceeded:
		s.CaptchaToken = e.Token
	case EmailSubmitStarted:
		s.Email.Pending = true
		s.Email.StartedAt = e.At
	case EmailSubmitted:
		s.Email.Result = e.Result
		s.Email.Pending = false
		s.Email.StartedAt = time.Time{}
		if e.Result.Success {
			s.Phase = PhaseOTP
		}
	case OtpSubmitStarted:
		s.Otp.Pending = true
		s.Otp.StartedAt = e.At
	case OtpSubmitted:
		s.Otp.Result = e.Result
		s.Otp.Pending = false
		s.Otp.StartedAt = time.Time{}
	case BackRequested:
		s.Phase = PhaseEmail
	}
	return s
}

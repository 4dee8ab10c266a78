package signin

import "errors"

var (
	ErrFlowNotFound      = errors.New("sign-in flow not found")
	ErrSubmissionPending = errors.New("submission already in flight")
	ErrCaptchaRequired   = errors.New("captcha token required")
	ErrWrongPhase        = errors.New("submission does not match the current phase")
	ErrStoreUnavailable  = errors.New("flow store unavailable")
)

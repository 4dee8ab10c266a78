package signin

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// EmailRequest is the input of the email-send action.
type EmailRequest struct {
	Email        string
	CaptchaToken string
	RedirectTo   string
	RemoteIP     string
}

// OtpRequest is the input of the verify action.
type OtpRequest struct {
	Email      string
	Token      string
	RedirectTo string
	FlowRef    string
}

// EmailSender sends a one-time code. Failures are returned in EmailResult.Error.
type EmailSender interface {
	SendCode(ctx context.Context, req EmailRequest) EmailResult
}

// CodeVerifier checks a one-time code. Failures are returned in OtpResult.Error.
type CodeVerifier interface {
	Verify(ctx context.Context, req OtpRequest) OtpResult
}

// Actions are the two remote operations the flow delegates to.
type Actions interface {
	EmailSender
	CodeVerifier
}

// Submission outcomes reported to the Observer.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

// Observer receives flow telemetry.
type Observer interface {
	EmailSubmission(outcome string, took time.Duration)
	OtpSubmission(outcome string, took time.Duration)
	PhaseChanged(from, to Phase)
}

type nopObserver struct{}

func (nopObserver) EmailSubmission(string, time.Duration) {}
func (nopObserver) OtpSubmission(string, time.Duration)   {}
func (nopObserver) PhaseChanged(Phase, Phase)             {}

// EmailForm is the submitted email form.
type EmailForm struct {
	Email        string
	CaptchaToken string
	RedirectTo   string
	RemoteIP     string
}

// OtpForm is the submitted code form. Email comes from the hidden field
// rendered from the last email result.
type OtpForm struct {
	Email      string
	Token      string
	RedirectTo string
}

// Options tune a Flow.
type Options struct {
	// PendingTimeout lets a new submission reclaim a slot whose action was
	// started longer ago than this, e.g. by a process that died mid-call.
	// Zero disables reclaiming.
	PendingTimeout time.Duration
	Observer       Observer
	Logger         *slog.Logger
}

// Flow drives sign-in flows stored in a Store through the remote actions.
type Flow struct {
	store          Store
	actions        Actions
	observer       Observer
	logger         *slog.Logger
	pendingTimeout time.Duration
	now            func() time.Time
}

// NewFlow creates a Flow.
func NewFlow(store Store, actions Actions, opts Options) *Flow {
	f := &Flow{
		store:          store,
		actions:        actions,
		observer:       opts.Observer,
		logger:         opts.Logger,
		pendingTimeout: opts.PendingTimeout,
		now:            time.Now,
	}
	if f.observer == nil {
		f.observer = nopObserver{}
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// Start creates a flow in the email phase and returns its ID.
func (f *Flow) Start(ctx context.Context, redirectTo string) (string, State, error) {
	st := NewState(redirectTo)
	id, err := f.store.Create(ctx, st)
	if err != nil {
		return "", State{}, err
	}
	return id, st, nil
}

// Load returns the current state of a flow.
func (f *Flow) Load(ctx context.Context, id string) (State, error) {
	return f.store.Load(ctx, id)
}

// Finish discards a flow once the user is signed in.
func (f *Flow) Finish(ctx context.Context, id string) error {
	return f.store.Delete(ctx, id)
}

// CaptchaSucceeded stores the challenge token. Empty tokens are ignored.
func (f *Flow) CaptchaSucceeded(ctx context.Context, id, token string) (State, error) {
	token = strings.TrimSpace(token)
	return f.store.Update(ctx, id, func(s *State) error {
		if token == "" {
			return nil
		}
		*s = Reduce(*s, CaptchaSucceeded{Token: token})
		return nil
	})
}

// GoBack returns the flow to the email phase.
func (f *Flow) GoBack(ctx context.Context, id string) (State, error) {
	var from Phase
	st, err := f.store.Update(ctx, id, func(s *State) error {
		from = s.Phase
		*s = Reduce(*s, BackRequested{})
		return nil
	})
	if err == nil && from != st.Phase {
		f.observer.PhaseChanged(from, st.Phase)
	}
	return st, err
}

// SubmitEmail runs the email-send action for the flow. The slot is marked
// pending before the action starts; a second submission while it is in
// flight fails with ErrSubmissionPending.
func (f *Flow) SubmitEmail(ctx context.Context, id string, form EmailForm) (State, error) {
	started := f.now()
	st, err := f.store.Update(ctx, id, func(s *State) error {
		if s.Phase != PhaseEmail {
			return ErrWrongPhase
		}
		if s.CaptchaToken == "" {
			return ErrCaptchaRequired
		}
		if s.Email.Pending && !f.expired(s.Email.StartedAt, started) {
			return ErrSubmissionPending
		}
		*s = Reduce(*s, EmailSubmitStarted{At: started})
		return nil
	})
	if err != nil {
		f.reject(ctx, "email", err, f.observer.EmailSubmission)
		return st, err
	}

	captchaToken := form.CaptchaToken
	if captchaToken == "" {
		captchaToken = st.CaptchaToken
	}
	called := f.now()
	result := f.actions.SendCode(ctx, EmailRequest{
		Email:        strings.TrimSpace(form.Email),
		CaptchaToken: captchaToken,
		RedirectTo:   form.RedirectTo,
		RemoteIP:     form.RemoteIP,
	})
	took := f.now().Sub(called)

	var from Phase
	st, err = f.store.Update(context.WithoutCancel(ctx), id, func(s *State) error {
		from = s.Phase
		*s = Reduce(*s, EmailSubmitted{Result: result})
		return nil
	})
	if err != nil {
		return st, err
	}

	outcome := OutcomeSuccess
	if !result.Success {
		outcome = OutcomeError
	}
	f.observer.EmailSubmission(outcome, took)
	if from != st.Phase {
		f.observer.PhaseChanged(from, st.Phase)
	}
	return st, nil
}

// SubmitOtp runs the verify action for the flow. The returned state's
// Otp.Result.Verified reports success; the phase is left unchanged.
func (f *Flow) SubmitOtp(ctx context.Context, id string, form OtpForm) (State, error) {
	started := f.now()
	st, err := f.store.Update(ctx, id, func(s *State) error {
		if s.Phase != PhaseOTP {
			return ErrWrongPhase
		}
		if s.Otp.Pending && !f.expired(s.Otp.StartedAt, started) {
			return ErrSubmissionPending
		}
		*s = Reduce(*s, OtpSubmitStarted{At: started})
		return nil
	})
	if err != nil {
		f.reject(ctx, "otp", err, f.observer.OtpSubmission)
		return st, err
	}

	called := f.now()
	result := f.actions.Verify(ctx, OtpRequest{
		Email:      strings.TrimSpace(form.Email),
		Token:      form.Token,
		RedirectTo: form.RedirectTo,
		FlowRef:    st.Email.Result.FlowRef,
	})
	took := f.now().Sub(called)

	st, err = f.store.Update(context.WithoutCancel(ctx), id, func(s *State) error {
		*s = Reduce(*s, OtpSubmitted{Result: result})
		return nil
	})
	if err != nil {
		return st, err
	}

	outcome := OutcomeSuccess
	if !result.Verified() {
		outcome = OutcomeError
	}
	f.observer.OtpSubmission(outcome, took)
	return st, nil
}

func (f *Flow) expired(startedAt, now time.Time) bool {
	if f.pendingTimeout <= 0 || startedAt.IsZero() {
		return false
	}
	return now.Sub(startedAt) > f.pendingTimeout
}

func (f *Flow) reject(ctx context.Context, step string, err error, record func(string, time.Duration)) {
	if errors.Is(err, ErrFlowNotFound) || errors.Is(err, ErrStoreUnavailable) {
		return
	}
	record(OutcomeRejected, 0)
	f.logger.InfoContext(ctx, "sign-in submission rejected", "step", step, "reason", err.Error())
}

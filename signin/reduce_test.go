package signin

import (
	"testing"
	"time"
)

func TestNewStateStartsOnEmailWithSubmitDisabled(t *testing.T) {
	st := NewState("/next")
	if st.Phase != PhaseEmail {
		t.Fatalf("phase=%q want %q", st.Phase, PhaseEmail)
	}
	if !st.EmailSubmitDisabled() {
		t.Fatal("email submit should be disabled without a captcha token")
	}
	if st.Message() != nil {
		t.Fatalf("unexpected message %+v", st.Message())
	}
	if st.RedirectTo != "/next" {
		t.Fatalf("redirectTo=%q", st.RedirectTo)
	}
}

func TestCaptchaEnablesEmailSubmit(t *testing.T) {
	st := Reduce(NewState(""), CaptchaSucceeded{Token: "tok"})
	if st.CaptchaToken != "tok" {
		t.Fatalf("captcha token=%q", st.CaptchaToken)
	}
	if st.EmailSubmitDisabled() {
		t.Fatal("email submit should be enabled once the captcha succeeded")
	}

	st = Reduce(st, EmailSubmitStarted{At: time.Now()})
	if !st.EmailSubmitDisabled() {
		t.Fatal("email submit should be disabled while pending")
	}
}

func TestEmailSuccessMovesToOtp(t *testing.T) {
	st := Reduce(NewState(""), CaptchaSucceeded{Token: "tok"})
	st = Reduce(st, EmailSubmitStarted{At: time.Now()})
	st = Reduce(st, EmailSubmitted{Result: EmailResult{Success: true, Email: "a@b.com"}})

	if st.Phase != PhaseOTP {
		t.Fatalf("phase=%q want otp", st.Phase)
	}
	if st.Email.Pending || !st.Email.StartedAt.IsZero() {
		t.Fatalf("email slot still pending: %+v", st.Email)
	}
	if got := st.ConfirmedEmail(); got != "a@b.com" {
		t.Fatalf("confirmed email=%q", got)
	}
	if st.OtpSubmitDisabled() {
		t.Fatal("otp submit should be enabled")
	}
}

func TestEmailFailureStaysOnEmailWithMessage(t *testing.T) {
	st := Reduce(NewState(""), CaptchaSucceeded{Token: "tok"})
	st = Reduce(st, EmailSubmitted{Result: EmailResult{Error: "X"}})

	if st.Phase != PhaseEmail {
		t.Fatalf("phase=%q want email", st.Phase)
	}
	msg := st.Message()
	if msg == nil || msg.Error != "X" {
		t.Fatalf("message=%+v want {X}", msg)
	}
}

func TestOtpResultsNeverChangePhase(t *testing.T) {
	base := Reduce(NewState(""), EmailSubmitted{Result: EmailResult{Success: true, Email: "a@b.com"}})

	cases := []struct {
		name    string
		result  OtpResult
		wantMsg string
	}{
		{name: "invalid code", result: OtpResult{Error: "Invalid code"}, wantMsg: "Invalid code"},
		{name: "verified", result: OtpResult{SessionToken: "sess"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := Reduce(base, OtpSubmitStarted{At: time.Now()})
			if !st.OtpSubmitDisabled() {
				t.Fatal("otp submit should be disabled while pending")
			}
			st = Reduce(st, OtpSubmitted{Result: tc.result})
			if st.Phase != PhaseOTP {
				t.Fatalf("phase=%q want otp", st.Phase)
			}
			if st.Otp.Pending {
				t.Fatal("otp slot still pending")
			}
			msg := st.Message()
			if tc.wantMsg == "" {
				if msg != nil {
					t.Fatalf("unexpected message %+v", msg)
				}
				if !st.Otp.Result.Verified() {
					t.Fatal("expected verified result")
				}
				return
			}
			if msg == nil || msg.Error != tc.wantMsg {
				t.Fatalf("message=%+v want %q", msg, tc.wantMsg)
			}
		})
	}
}

func TestBackKeepsEmailResultAndCaptcha(t *testing.T) {
	st := Reduce(NewState(""), CaptchaSucceeded{Token: "tok"})
	st = Reduce(st, EmailSubmitted{Result: EmailResult{Success: true, Email: "a@b.com", FlowRef: "f1"}})
	st = Reduce(st, OtpSubmitted{Result: OtpResult{Error: "Invalid code"}})
	st = Reduce(st, BackRequested{})

	if st.Phase != PhaseEmail {
		t.Fatalf("phase=%q want email", st.Phase)
	}
	if st.Email.Result.Email != "a@b.com" || st.Email.Result.FlowRef != "f1" {
		t.Fatalf("email result cleared: %+v", st.Email.Result)
	}
	if st.CaptchaToken != "tok" {
		t.Fatalf("captcha token=%q want kept", st.CaptchaToken)
	}
	// The otp error belongs to the inactive phase.
	if st.Message() != nil {
		t.Fatalf("unexpected message %+v", st.Message())
	}
}

func TestLateEmailResultStillApplies(t *testing.T) {
	st := Reduce(NewState(""), CaptchaSucceeded{Token: "tok"})
	st = Reduce(st, EmailSubmitted{Result: EmailResult{Success: true, Email: "a@b.com"}})
	st = Reduce(st, BackRequested{})
	st = Reduce(st, EmailSubmitStarted{At: time.Now()})
	st = Reduce(st, BackRequested{})
	st = Reduce(st, EmailSubmitted{Result: EmailResult{Success: true, Email: "c@d.com"}})

	if st.Phase != PhaseOTP || st.ConfirmedEmail() != "c@d.com" {
		t.Fatalf("late result not applied: phase=%q email=%q", st.Phase, st.ConfirmedEmail())
	}
}

// Package kratos implements the email-send and verify actions on top of the
// Ory Kratos "code" login method, using native (API) login flows so the
// server can drive them without forwarding browser cookies.
package kratos

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	ory "github.com/ory/client-go"

	"otp-signin/signin"
)

const methodCode = "code"

const (
	msgUnavailable = "We could not reach the sign-in service. Please try again."
	msgInvalidCode = "The code is invalid or has already been used."
	msgExpired     = "This code has expired. Please request a new one."
	msgMissingFlow = "Your sign-in session has expired. Please request a new code."
)

// NewClient builds an Ory API client for the Kratos public API.
func NewClient(publicURL string) *ory.APIClient {
	conf := ory.NewConfiguration()
	conf.Servers = ory.ServerConfigurations{
		{
			URL: publicURL,
		},
	}
	return ory.NewAPIClient(conf)
}

// Authenticator implements signin.Actions with Kratos.
type Authenticator struct {
	client *ory.APIClient
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(client *ory.APIClient, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{client: client, logger: logger}
}

// SendCode starts a login flow and asks Kratos to email a code to req.Email.
func (a *Authenticator) SendCode(ctx context.Context, req signin.EmailRequest) signin.EmailResult {
	flow, _, err := a.client.FrontendAPI.CreateNativeLoginFlow(ctx).Execute()
	if err != nil {
		a.logger.ErrorContext(ctx, "kratos: create login flow failed", "error", err)
		return signin.EmailResult{Error: msgUnavailable}
	}

	body := ory.UpdateLoginFlowWithCodeMethod{}
	body.SetMethod(methodCode)
	body.SetCsrfToken("")
	body.SetIdentifier(req.Email)

	_, resp, err := a.client.FrontendAPI.UpdateLoginFlow(ctx).
		Flow(flow.GetId()).
		UpdateLoginFlowBody(ory.UpdateLoginFlowWithCodeMethodAsUpdateLoginFlowBody(&body)).
		Execute()

	// Kratos answers the first code submission with the updated flow as a
	// 400; the flow carries error messages only when nothing was sent.
	if err != nil {
		if updated, ok := flowFromError(err); ok {
			if msg := firstError(updated); msg != "" {
				return signin.EmailResult{Email: req.Email, Error: msg}
			}
			return signin.EmailResult{Success: true, Email: req.Email, FlowRef: updated.GetId()}
		}
		a.logger.ErrorContext(ctx, "kratos: send code failed", "error", err, "status", statusOf(resp))
		return signin.EmailResult{Email: req.Email, Error: msgUnavailable}
	}

	return signin.EmailResult{Success: true, Email: req.Email, FlowRef: flow.GetId()}
}

// Verify submits the code on the flow that issued it.
func (a *Authenticator) Verify(ctx context.Context, req signin.OtpRequest) signin.OtpResult {
	if req.FlowRef == "" || req.Email == "" {
		return signin.OtpResult{Error: msgMissingFlow}
	}

	body := ory.UpdateLoginFlowWithCodeMethod{}
	body.SetMethod(methodCode)
	body.SetCsrfToken("")
	body.SetIdentifier(req.Email)
	body.SetCode(req.Token)

	result, resp, err := a.client.FrontendAPI.UpdateLoginFlow(ctx).
		Flow(req.FlowRef).
		UpdateLoginFlowBody(ory.UpdateLoginFlowWithCodeMethodAsUpdateLoginFlowBody(&body)).
		Execute()
	if err != nil {
		if updated, ok := flowFromError(err); ok {
			if msg := firstError(updated); msg != "" {
				return signin.OtpResult{Error: msg}
			}
			return signin.OtpResult{Error: msgInvalidCode}
		}
		if resp != nil && (resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound) {
			return signin.OtpResult{Error: msgExpired}
		}
		a.logger.ErrorContext(ctx, "kratos: verify code failed", "error", err, "status", statusOf(resp))
		return signin.OtpResult{Error: msgUnavailable}
	}

	token := result.GetSessionToken()
	if token == "" {
		a.logger.ErrorContext(ctx, "kratos: login succeeded without a session token")
		return signin.OtpResult{Error: msgUnavailable}
	}
	a.logger.InfoContext(ctx, "kratos: code accepted", "identity_id", result.Session.GetIdentity().Id)
	return signin.OtpResult{SessionToken: token}
}

// flowFromError extracts the login flow Kratos returns on validation errors.
func flowFromError(err error) (*ory.LoginFlow, bool) {
	var genericError *ory.GenericOpenAPIError
	if !errors.As(err, &genericError) {
		return nil, false
	}
	switch model := genericError.Model().(type) {
	case ory.LoginFlow:
		return &model, true
	case *ory.LoginFlow:
		return model, model != nil
	}
	return nil, false
}

// firstError returns the first error-typed message on the flow or its nodes.
func firstError(flow *ory.LoginFlow) string {
	if msg := errorText(flow.Ui.Messages); msg != "" {
		return msg
	}
	for _, node := range flow.Ui.Nodes {
		if msg := errorText(node.Messages); msg != "" {
			return msg
		}
	}
	return ""
}

func errorText(texts []ory.UiText) string {
	for _, t := range texts {
		if t.Type == "error" && strings.TrimSpace(t.Text) != "" {
			return t.Text
		}
	}
	return ""
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

// Package totp implements the time-based OTP token type. Enrollment is a
// single step and authentication is synchronous: no challenge is ever
// created.
package totp

import (
	"context"
	"time"

	"github.com/pquerna/otp/totp"

	"credential-server/backend/internal/api"
	"credential-server/backend/internal/token"
	"credential-server/backend/internal/token/domain"
	tokenrepo "credential-server/backend/internal/token/repository"
)

// TokenType is the type tag of this variant.
const TokenType = "totp"

// DefaultIssuer labels the account in authenticator apps.
const DefaultIssuer = "credential-server"

// Variant implements the synchronous TOTP lifecycle.
type Variant struct {
	tokens tokenrepo.Repository
	issuer string
}

// New returns a totp Variant. issuer may be empty; DefaultIssuer applies.
func New(tokens tokenrepo.Repository, issuer string) *Variant {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &Variant{tokens: tokens, issuer: issuer}
}

func (v *Variant) Type() string { return TokenType }

// BeginEnrollment generates the shared secret and completes enrollment in
// one step. The secret is surfaced exactly once, in the enrollment detail.
func (v *Variant) BeginEnrollment(ctx context.Context, tok *domain.Token, p token.Params) error {
	account := tok.OwnerUser
	if account == "" {
		account = tok.Serial
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      v.issuer,
		AccountName: account,
	})
	if err != nil {
		return err
	}
	tok.Secret = key.Secret()
	tok.SetInfo("otpauth_url", key.URL())
	if err := tok.Transition(domain.RolloutEnrolled); err != nil {
		return err
	}
	tok.Active = true
	tok.UpdatedAt = time.Now().UTC()
	return v.tokens.Update(ctx, tok)
}

// ContinueEnrollment always fails: there is no second step.
func (v *Variant) ContinueEnrollment(ctx context.Context, tok *domain.Token, p token.Params) error {
	return api.NewError(api.CodeParameter, "totp enrollment completes in a single step")
}

// EnrollmentDetail returns the provisioning payload including the shared
// secret. This is the only place the secret leaves the server.
func (v *Variant) EnrollmentDetail(ctx context.Context, tok *domain.Token, p token.Params) (map[string]interface{}, error) {
	return map[string]interface{}{
		"serial":        tok.Serial,
		"rollout_state": string(tok.RolloutState),
		"otpkey":        tok.Secret,
		"otpauth_url":   tok.GetInfo("otpauth_url"),
	}, nil
}

// IsChallengeRequired is always false for synchronous tokens.
func (v *Variant) IsChallengeRequired(ctx context.Context, tok *domain.Token, p token.Params) bool {
	return false
}

// CreateChallenge is invalid for synchronous tokens.
func (v *Variant) CreateChallenge(ctx context.Context, tok *domain.Token, p token.Params) (string, string, error) {
	return "", "", api.NewError(api.CodeParameter, "totp tokens authenticate synchronously")
}

// CheckChallengeAnswer always reports unanswered: totp has no challenges.
func (v *Variant) CheckChallengeAnswer(ctx context.Context, tok *domain.Token, transactionID string) (token.Answer, error) {
	return token.Answer{}, nil
}

// CheckOTP validates the submitted code against the shared secret in the
// current time window.
func (v *Variant) CheckOTP(ctx context.Context, tok *domain.Token, value string) (bool, error) {
	if tok.Secret == "" {
		return false, nil
	}
	return totp.Validate(value, tok.Secret), nil
}

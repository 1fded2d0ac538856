// Package push implements the out-of-band push token type: two-step
// enrollment with a single-use credential, RSA keypair exchange, and
// challenge confirmation signed by the device.
package push

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"credential-server/backend/internal/api"
	challengerepo "credential-server/backend/internal/challenge/repository"
	gwdomain "credential-server/backend/internal/gateway/domain"
	gwrepo "credential-server/backend/internal/gateway/repository"
	"credential-server/backend/internal/notify"
	policydomain "credential-server/backend/internal/policy/domain"
	policyengine "credential-server/backend/internal/policy/engine"
	"credential-server/backend/internal/security"
	"credential-server/backend/internal/token"
	"credential-server/backend/internal/token/domain"
	tokenrepo "credential-server/backend/internal/token/repository"
)

// TokenType is the type tag of this variant.
const TokenType = "push"

// DefaultMessage is the challenge prompt shown on the device unless the
// push_text policy action overrides it.
const DefaultMessage = "Please confirm the authentication on your mobile device!"

// DefaultTitle is the notification title.
const DefaultTitle = "Authentication Request"

// Stable error messages. Clients and apps match on these; do not reword.
const (
	msgNoClientWait  = "No token with this serial number in the rollout state 'clientwait'."
	msgBadCredential = "Invalid enrollment credential. You are not authorized to finalize this token."
	msgMissingPolicy = "Missing enrollment policy for push token: " + policydomain.ActionFirebaseConfig
)

// credentialBytes is the entropy of the single-use enrollment credential.
const credentialBytes = 20

// Config carries the deployment-level settings of the push variant.
type Config struct {
	// KeyBits is the RSA keypair size generated at enrollment completion.
	// <= 0 falls back to security.DefaultKeyBits.
	KeyBits int
	// ChallengeTTL bounds how long a pending challenge stays confirmable.
	ChallengeTTL time.Duration
	// RegistrationURL is the fallback enrollment callback URL when the
	// gateway configuration carries none.
	RegistrationURL string
}

// Variant implements the push token lifecycle.
type Variant struct {
	tokens     tokenrepo.Repository
	challenges challengerepo.Repository
	gateways   gwrepo.Repository
	policies   policyengine.Evaluator
	sender     notify.Sender
	cfg        Config
}

// New returns a push Variant over the given collaborators.
func New(tokens tokenrepo.Repository, challenges challengerepo.Repository, gateways gwrepo.Repository, policies policyengine.Evaluator, sender notify.Sender, cfg Config) *Variant {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = challengerepo.DefaultTTL
	}
	return &Variant{
		tokens:     tokens,
		challenges: challenges,
		gateways:   gateways,
		policies:   policies,
		sender:     sender,
		cfg:        cfg,
	}
}

func (v *Variant) Type() string { return TokenType }

// BeginEnrollment runs step 1: resolves the gateway configuration from the
// enrollment policy, issues a fresh single-use credential, and moves the
// token to clientwait. Re-running step 1 on a clientwait token reissues the
// credential.
func (v *Variant) BeginEnrollment(ctx context.Context, tok *domain.Token, p token.Params) error {
	actions, err := v.policies.Resolve(ctx, policydomain.ScopeEnrollment, policyengine.Request{
		User:   tok.OwnerUser,
		Realm:  tok.OwnerRealm,
		Client: p.Get("client"),
	})
	if err != nil {
		return err
	}
	fbName := actions[policydomain.ActionFirebaseConfig]
	if fbName == "" {
		return api.NewError(api.CodeMissingPolicy, msgMissingPolicy)
	}
	gw, err := v.gateways.GetByName(ctx, fbName)
	if err != nil {
		return err
	}
	if gw == nil {
		return api.NewError(api.CodeParameter, "unknown firebase configuration %q", fbName)
	}

	cred := make([]byte, credentialBytes)
	if _, err := rand.Read(cred); err != nil {
		return err
	}
	tok.SetInfo(domain.InfoEnrollmentCredential, hex.EncodeToString(cred))
	tok.SetInfo(domain.InfoFirebaseConfig, fbName)
	if err := tok.Transition(domain.RolloutClientWait); err != nil {
		return err
	}
	tok.UpdatedAt = time.Now().UTC()
	return v.tokens.Update(ctx, tok)
}

// ContinueEnrollment runs step 2 from the device. tok is nil when no token
// matches the submitted serial; that case and a wrong rollout state share one
// error so callers cannot probe for valid serials.
func (v *Variant) ContinueEnrollment(ctx context.Context, tok *domain.Token, p token.Params) error {
	if tok == nil || tok.Type != TokenType || tok.RolloutState != domain.RolloutClientWait {
		return api.NewError(api.CodeParameter, msgNoClientWait)
	}
	submitted := p.Get("enrollment_credential")
	issued := tok.GetInfo(domain.InfoEnrollmentCredential)
	if issued == "" || subtle.ConstantTimeCompare([]byte(submitted), []byte(issued)) != 1 {
		return api.NewError(api.CodeInvalidCredential, msgBadCredential)
	}
	fbToken := p.Get("fbtoken")
	pubKey := p.Get("pubkey")
	if fbToken == "" || pubKey == "" {
		return api.NewError(api.CodeParameter, "missing parameter: fbtoken and pubkey are required")
	}
	if _, err := security.ParseDevicePublicKey(pubKey); err != nil {
		return api.NewError(api.CodeParameter, "invalid device public key")
	}

	priv, err := security.GenerateKeypair(v.cfg.KeyBits)
	if err != nil {
		return err
	}
	// Stage the enrolled state on a copy; the fetched record stays in
	// clientwait until the repository confirms the transition.
	next := tok.Clone()
	next.Secret = security.EncodePrivateKeyPEM(priv)
	next.SetInfo(domain.InfoPublicKeyServer, security.EncodePublicKeyPEM(&priv.PublicKey))
	next.SetInfo(domain.InfoPublicKeySmartphone, pubKey)
	next.SetInfo(domain.InfoFirebaseToken, fbToken)
	next.DeleteInfo(domain.InfoEnrollmentCredential)
	if err := next.Transition(domain.RolloutEnrolled); err != nil {
		return err
	}
	next.Active = true
	next.UpdatedAt = time.Now().UTC()

	// A concurrent step 2 may have won the transition; the loser sees the
	// same state error as a stale serial and writes nothing.
	won, err := v.tokens.CompleteEnrollment(ctx, next)
	if err != nil {
		return err
	}
	if !won {
		return api.NewError(api.CodeParameter, msgNoClientWait)
	}
	*tok = *next
	return nil
}

// EnrollmentDetail builds the caller-visible payload for the token's current
// rollout state. Private key material never appears here.
func (v *Variant) EnrollmentDetail(ctx context.Context, tok *domain.Token, p token.Params) (map[string]interface{}, error) {
	detail := map[string]interface{}{
		"serial":        tok.Serial,
		"rollout_state": string(tok.RolloutState),
	}
	switch tok.RolloutState {
	case domain.RolloutClientWait:
		pushURL, err := v.enrollmentURL(ctx, tok)
		if err != nil {
			return nil, err
		}
		detail["enrollment_credential"] = tok.GetInfo(domain.InfoEnrollmentCredential)
		detail["pushurl"] = pushURL
	case domain.RolloutEnrolled:
		pub, err := security.ParsePublicKey(tok.GetInfo(domain.InfoPublicKeyServer))
		if err != nil {
			return nil, err
		}
		detail["public_key"] = security.PublicKeyBase64(pub)
	}
	return detail, nil
}

// enrollmentURL builds the otpauth-style URL the device scans in step 1,
// embedding the gateway's enrollment callback and project identity.
func (v *Variant) enrollmentURL(ctx context.Context, tok *domain.Token) (string, error) {
	gw, err := v.gateways.GetByName(ctx, tok.GetInfo(domain.InfoFirebaseConfig))
	if err != nil {
		return "", err
	}
	if gw == nil {
		return "", api.NewError(api.CodeParameter, "unknown firebase configuration %q", tok.GetInfo(domain.InfoFirebaseConfig))
	}
	regURL := gw.Option(gwdomain.OptionRegistrationURL)
	if regURL == "" {
		regURL = v.cfg.RegistrationURL
	}
	q := url.Values{}
	q.Set("url", regURL)
	q.Set("serial", tok.Serial)
	q.Set("enrollment_credential", tok.GetInfo(domain.InfoEnrollmentCredential))
	if ttl := gw.Option(gwdomain.OptionTTL); ttl != "" {
		q.Set("ttl", ttl)
	}
	if pid := gw.Option(gwdomain.OptionProjectID); pid != "" {
		q.Set("projectid", pid)
	}
	if pn := gw.Option(gwdomain.OptionProjectNumber); pn != "" {
		q.Set("projectnumber", pn)
	}
	if app := gw.Option(gwdomain.OptionAppID); app != "" {
		q.Set("appid", app)
	}
	return fmt.Sprintf("otpauth://pipush/%s?%s", url.PathEscape(tok.Serial), q.Encode()), nil
}

// IsChallengeRequired reports whether authentication must go out-of-band.
// Push tokens are always challenge-based once enrolled and active.
func (v *Variant) IsChallengeRequired(ctx context.Context, tok *domain.Token, p token.Params) bool {
	return tok.Active && tok.RolloutState == domain.RolloutEnrolled
}

// CreateChallenge persists a challenge and dispatches the signed push
// notification. The gateway selection is re-resolved from the enrollment
// policy on every attempt, so revoking the policy disables the token. On
// delivery failure the challenge stays valid so a later poll or resend can
// still succeed.
func (v *Variant) CreateChallenge(ctx context.Context, tok *domain.Token, p token.Params) (string, string, error) {
	evalReq := policyengine.Request{
		User:   tok.OwnerUser,
		Realm:  tok.OwnerRealm,
		Client: p.Get("client"),
	}
	enrollActions, err := v.policies.Resolve(ctx, policydomain.ScopeEnrollment, evalReq)
	if err != nil {
		return "", "", err
	}
	fbName := enrollActions[policydomain.ActionFirebaseConfig]
	if fbName == "" {
		return "", "", api.NewError(api.CodeMissingPolicy, msgMissingPolicy)
	}
	authActions, err := v.policies.Resolve(ctx, policydomain.ScopeAuthentication, evalReq)
	if err != nil {
		return "", "", err
	}
	message := authActions[policydomain.ActionPushText]
	if message == "" {
		message = DefaultMessage
	}

	gw, err := v.gateways.GetByName(ctx, fbName)
	if err != nil {
		return "", "", err
	}
	if gw == nil {
		return "", "", api.NewError(api.CodeDelivery, "push gateway configuration %q not found", fbName)
	}

	chal, err := v.challenges.Create(ctx, tok.Serial, message, v.cfg.ChallengeTTL)
	if err != nil {
		return "", "", err
	}

	regURL := gw.Option(gwdomain.OptionRegistrationURL)
	if regURL == "" {
		regURL = v.cfg.RegistrationURL
	}
	payload := map[string]string{
		"nonce":    chal.TransactionID,
		"serial":   tok.Serial,
		"question": message,
		"title":    DefaultTitle,
		"url":      regURL,
	}
	sig, err := v.signPayload(tok, payload)
	if err != nil {
		return "", "", err
	}
	payload["signature"] = sig

	if err := v.sender.Send(ctx, tok.GetInfo(domain.InfoFirebaseToken), payload, gw); err != nil {
		return chal.TransactionID, message, api.NewError(api.CodeDelivery, "push notification could not be delivered")
	}
	return chal.TransactionID, message, nil
}

// signPayload signs the canonical field order with the server private key so
// the app can verify the notification is genuine.
func (v *Variant) signPayload(tok *domain.Token, payload map[string]string) (string, error) {
	signer, err := security.ParsePrivateKey(tok.Secret)
	if err != nil {
		return "", err
	}
	priv, ok := signer.(*rsa.PrivateKey)
	if !ok {
		return "", security.ErrInvalidKey
	}
	msg := strings.Join([]string{
		payload["nonce"],
		payload["url"],
		payload["serial"],
		payload["question"],
		payload["title"],
	}, "|")
	return security.Sign(priv, []byte(msg))
}

// ConfirmAnswer handles the device callback confirming a challenge. The
// signature covers "nonce|serial" and must verify against the device public
// key stored at enrollment. On success the answer is recorded exactly once.
func (v *Variant) ConfirmAnswer(ctx context.Context, tok *domain.Token, transactionID, signature string) error {
	chals, err := v.challenges.Get(ctx, tok.Serial, transactionID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	var open bool
	for _, c := range chals {
		if !c.Answered && !c.Expired(now) {
			open = true
			break
		}
	}
	if !open {
		return api.NewError(api.CodeParameter, "no open challenge for this transaction")
	}
	pub, err := security.ParseDevicePublicKey(tok.GetInfo(domain.InfoPublicKeySmartphone))
	if err != nil {
		return err
	}
	msg := transactionID + "|" + tok.Serial
	if err := security.Verify(pub, []byte(msg), signature); err != nil {
		return api.NewError(api.CodeAuthFailed, "challenge signature verification failed")
	}
	return v.challenges.SetAnswer(ctx, transactionID, true)
}

// CheckChallengeAnswer reads the confirmation state of a transaction.
// Expired challenges are terminal and report not answered.
func (v *Variant) CheckChallengeAnswer(ctx context.Context, tok *domain.Token, transactionID string) (token.Answer, error) {
	chals, err := v.challenges.Get(ctx, tok.Serial, transactionID)
	if err != nil {
		return token.Answer{}, err
	}
	now := time.Now().UTC()
	for _, c := range chals {
		if c.Expired(now) {
			continue
		}
		if c.Answered {
			return token.Answer{Answered: true, Accepted: c.Answer}, nil
		}
	}
	return token.Answer{}, nil
}

// CheckOTP always reports no match: push tokens have no synchronous proof.
func (v *Variant) CheckOTP(ctx context.Context, tok *domain.Token, value string) (bool, error) {
	return false, nil
}

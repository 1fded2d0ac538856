// Package validate orchestrates end-to-end authentication: credential
// splitting, PIN verification, synchronous proof checks, and the
// challenge/response round trip. It is token-type agnostic; type behavior
// lives behind the token.Variant contract.
package validate

import (
	"context"
	"time"

	auditpkg "credential-server/backend/internal/audit"
	auditdomain "credential-server/backend/internal/audit/domain"
	challengerepo "credential-server/backend/internal/challenge/repository"
	policydomain "credential-server/backend/internal/policy/domain"
	policyengine "credential-server/backend/internal/policy/engine"
	"credential-server/backend/internal/security"
	"credential-server/backend/internal/token"
	"credential-server/backend/internal/token/domain"
)

// Messages surfaced in the detail payload. Stable; clients display them.
const (
	MsgWrongPIN = "wrong otp pin"
	MsgWrongOTP = "wrong otp value"
	MsgNoToken  = "The user has no tokens assigned"
	MsgMatched  = "matching 1 tokens"
)

// otpLength is the proof length assumed when splitting PIN and OTP for
// synchronous token types.
const otpLength = 6

// Request is one authentication attempt. Either User+Realm or Serial selects
// the tokens; TransactionID switches to the poll path.
type Request struct {
	User          string
	Realm         string
	Serial        string
	Pass          string
	TransactionID string
	Client        string
}

// Result is the outcome of an attempt. Authenticated maps to the envelope
// value; a pending challenge carries its transaction id and prompt.
type Result struct {
	Authenticated bool
	Serial        string
	TransactionID string
	Message       string
}

// Service runs authentication attempts against the token engine.
type Service struct {
	engine     *token.Engine
	challenges challengerepo.Repository
	hasher     *security.Hasher
	policies   policyengine.Evaluator
	auditor    auditpkg.AuditLogger
}

// NewService returns an orchestrator over the given collaborators.
func NewService(engine *token.Engine, challenges challengerepo.Repository, hasher *security.Hasher, policies policyengine.Evaluator, auditor auditpkg.AuditLogger) *Service {
	if auditor == nil {
		auditor = auditpkg.Nop()
	}
	return &Service{
		engine:     engine,
		challenges: challenges,
		hasher:     hasher,
		policies:   policies,
		auditor:    auditor,
	}
}

// Check runs one authentication attempt. Authentication failures are results,
// not errors; errors are reserved for policy, delivery, and storage faults.
func (s *Service) Check(ctx context.Context, req Request) (*Result, error) {
	if req.TransactionID != "" {
		return s.poll(ctx, req)
	}

	candidates, err := s.candidates(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		s.audit(ctx, req, "", false, MsgNoToken)
		return &Result{Message: MsgNoToken}, nil
	}

	mode, err := s.pinMode(ctx, req)
	if err != nil {
		return nil, err
	}

	for _, tok := range candidates {
		if !tok.Active || tok.RolloutState != domain.RolloutEnrolled {
			continue
		}
		v, err := s.engine.Variant(tok.Type)
		if err != nil {
			continue
		}
		if v.IsChallengeRequired(ctx, tok, params(req)) {
			// The whole credential is the PIN; the proof arrives out of band.
			if !s.checkPIN(tok, req.Pass) {
				s.audit(ctx, req, tok.Serial, false, MsgWrongPIN)
				continue
			}
			txid, message, err := v.CreateChallenge(ctx, tok, params(req))
			if err != nil {
				return nil, err
			}
			s.auditor.LogEvent(ctx, auditpkg.Event{
				Username: req.User, Realm: req.Realm, Serial: tok.Serial,
				Action: auditdomain.ActionChallengeSent, Success: true,
			})
			return &Result{Serial: tok.Serial, TransactionID: txid, Message: message}, nil
		}

		pin, otp := splitPass(req.Pass, mode)
		if !s.checkPIN(tok, pin) {
			s.audit(ctx, req, tok.Serial, false, MsgWrongPIN)
			continue
		}
		ok, err := v.CheckOTP(ctx, tok, otp)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.audit(ctx, req, tok.Serial, false, MsgWrongOTP)
			continue
		}
		s.audit(ctx, req, tok.Serial, true, MsgMatched)
		return &Result{Authenticated: true, Serial: tok.Serial, Message: MsgMatched}, nil
	}
	return &Result{Message: MsgWrongPIN}, nil
}

// poll checks a pending challenge by transaction id. PIN free: the device
// callback is the only writer of the answer. An answered challenge is
// consumed once its outcome is delivered, so a transaction id authenticates
// at most once.
func (s *Service) poll(ctx context.Context, req Request) (*Result, error) {
	chals, err := s.challenges.Get(ctx, req.Serial, req.TransactionID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, c := range chals {
		if c.Expired(now) {
			continue
		}
		tok, err := s.engine.Tokens().GetBySerial(ctx, c.Serial)
		if err != nil {
			return nil, err
		}
		if tok == nil || !tok.Active {
			continue
		}
		v, err := s.engine.Variant(tok.Type)
		if err != nil {
			continue
		}
		ans, err := v.CheckChallengeAnswer(ctx, tok, req.TransactionID)
		if err != nil {
			return nil, err
		}
		if ans.Answered {
			if err := s.challenges.DeleteByTransactionID(ctx, req.TransactionID); err != nil {
				return nil, err
			}
			if ans.Accepted {
				s.audit(ctx, req, tok.Serial, true, MsgMatched)
				return &Result{Authenticated: true, Serial: tok.Serial, TransactionID: req.TransactionID, Message: MsgMatched}, nil
			}
			s.audit(ctx, req, tok.Serial, false, "challenge declined")
			return &Result{Serial: tok.Serial, TransactionID: req.TransactionID}, nil
		}
		return &Result{Serial: tok.Serial, TransactionID: req.TransactionID}, nil
	}
	// Unknown or expired transaction: terminal not-confirmed.
	return &Result{TransactionID: req.TransactionID}, nil
}

// candidates selects tokens by explicit serial or by owner binding.
func (s *Service) candidates(ctx context.Context, req Request) ([]*domain.Token, error) {
	if req.Serial != "" {
		tok, err := s.engine.Tokens().GetBySerial(ctx, req.Serial)
		if err != nil {
			return nil, err
		}
		if tok == nil {
			return nil, nil
		}
		return []*domain.Token{tok}, nil
	}
	if req.User == "" {
		return nil, nil
	}
	return s.engine.Tokens().GetByOwner(ctx, req.User, req.Realm)
}

// pinMode resolves the otppin_mode authentication action, defaulting to prepend.
func (s *Service) pinMode(ctx context.Context, req Request) (string, error) {
	actions, err := s.policies.Resolve(ctx, policydomain.ScopeAuthentication, policyengine.Request{
		User:   req.User,
		Realm:  req.Realm,
		Client: req.Client,
	})
	if err != nil {
		return "", err
	}
	if actions[policydomain.ActionOTPPINMode] == "append" {
		return "append", nil
	}
	return "prepend", nil
}

// checkPIN verifies pin against the token's stored hash. A token without a
// PIN accepts only the empty PIN.
func (s *Service) checkPIN(tok *domain.Token, pin string) bool {
	if tok.PINHash == "" {
		return pin == ""
	}
	return s.hasher.Compare(tok.PINHash, []byte(pin)) == nil
}

// splitPass splits the submitted credential into PIN and OTP for synchronous
// token types. prepend: PIN before the proof; append: proof before the PIN.
func splitPass(pass, mode string) (pin, otp string) {
	if len(pass) < otpLength {
		return pass, ""
	}
	if mode == "append" {
		return pass[otpLength:], pass[:otpLength]
	}
	return pass[:len(pass)-otpLength], pass[len(pass)-otpLength:]
}

func params(req Request) token.Params {
	return token.Params{"user": req.User, "realm": req.Realm, "client": req.Client}
}

func (s *Service) audit(ctx context.Context, req Request, serial string, success bool, info string) {
	s.auditor.LogEvent(ctx, auditpkg.Event{
		Username: req.User,
		Realm:    req.Realm,
		Serial:   serial,
		Action:   auditdomain.ActionValidateCheck,
		Success:  success,
		Info:     info,
	})
}

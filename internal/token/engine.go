// Package token implements the polymorphic token lifecycle: one contract,
// per-type variants. Adding a token type means adding a Variant
// implementation; the engine and orchestrator stay unchanged.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"credential-server/backend/internal/api"
	"credential-server/backend/internal/security"
	"credential-server/backend/internal/token/domain"
	tokenrepo "credential-server/backend/internal/token/repository"
)

// Params is the open request parameter map of an enrollment or
// authentication call.
type Params map[string]string

// Get returns the parameter value for key, or "" if absent.
func (p Params) Get(key string) string { return p[key] }

// Answer is the outcome of a challenge poll. Answered is false while the
// out-of-band channel has not confirmed (or the challenge expired); Accepted
// carries the confirmation value once answered.
type Answer struct {
	Answered bool
	Accepted bool
}

// Variant is the lifecycle contract every token type implements. Methods
// returning *api.Error surface stable-coded failures to the API boundary.
type Variant interface {
	Type() string

	// BeginEnrollment initializes enrollment on a fresh or re-enrollable
	// token and persists the result. Never returns completed proof material.
	BeginEnrollment(ctx context.Context, tok *domain.Token, p Params) error

	// ContinueEnrollment advances enrollment by one step. tok may be nil when
	// no token matches the submitted serial; the variant reports the state
	// error so that a wrong serial and a wrong credential stay distinct.
	ContinueEnrollment(ctx context.Context, tok *domain.Token, p Params) error

	// EnrollmentDetail builds the caller-visible payload after an enrollment
	// step. Must never include private key material or OTP secrets.
	EnrollmentDetail(ctx context.Context, tok *domain.Token, p Params) (map[string]interface{}, error)

	// IsChallengeRequired reports whether this authentication attempt needs
	// an out-of-band challenge instead of a synchronous check.
	IsChallengeRequired(ctx context.Context, tok *domain.Token, p Params) bool

	// CreateChallenge persists a new challenge and dispatches the out-of-band
	// notification. On delivery failure the challenge stays valid and the
	// returned error wraps notify.ErrDelivery.
	CreateChallenge(ctx context.Context, tok *domain.Token, p Params) (transactionID, message string, err error)

	// CheckChallengeAnswer reads the challenge state without mutating it.
	CheckChallengeAnswer(ctx context.Context, tok *domain.Token, transactionID string) (Answer, error)

	// CheckOTP verifies a synchronous proof value. Challenge-based variants
	// always return false.
	CheckOTP(ctx context.Context, tok *domain.Token, value string) (bool, error)
}

// Engine drives enrollment across the registered token type variants.
type Engine struct {
	tokens   tokenrepo.Repository
	hasher   *security.Hasher
	variants map[string]Variant
	defType  string
}

// NewEngine returns an Engine over the given repository and variants. The
// first variant is the default type for /token/init calls without a type.
func NewEngine(tokens tokenrepo.Repository, hasher *security.Hasher, variants ...Variant) *Engine {
	e := &Engine{
		tokens:   tokens,
		hasher:   hasher,
		variants: make(map[string]Variant, len(variants)),
	}
	for i, v := range variants {
		e.variants[v.Type()] = v
		if i == 0 {
			e.defType = v.Type()
		}
	}
	return e
}

// Variant returns the registered variant for typ.
func (e *Engine) Variant(typ string) (Variant, error) {
	v, ok := e.variants[typ]
	if !ok {
		return nil, api.NewError(api.CodeParameter, "unknown token type %q", typ)
	}
	return v, nil
}

// Tokens exposes the token repository for collaborators that look up records
// by serial (orchestrator, handlers).
func (e *Engine) Tokens() tokenrepo.Repository { return e.tokens }

// InitToken handles enrollment-start: creates the token record if needed,
// runs the variant's first enrollment step, and returns the detail payload.
// A token that is already enrolled cannot restart enrollment.
func (e *Engine) InitToken(ctx context.Context, p Params) (map[string]interface{}, error) {
	typ := p.Get("type")
	if typ == "" {
		typ = e.defType
	}
	v, err := e.Variant(typ)
	if err != nil {
		return nil, err
	}

	serial := p.Get("serial")
	if serial == "" {
		serial, err = GenerateSerial(typ)
		if err != nil {
			return nil, err
		}
	}
	tok, err := e.tokens.GetBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		now := time.Now().UTC()
		tok = &domain.Token{
			ID:           uuid.New().String(),
			Serial:       serial,
			Type:         typ,
			RolloutState: domain.RolloutNotStarted,
			Info:         make(map[string]string),
			OwnerUser:    p.Get("user"),
			OwnerRealm:   p.Get("realm"),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if pin := p.Get("pin"); pin != "" {
			hash, err := e.hasher.Hash([]byte(pin))
			if err != nil {
				return nil, err
			}
			tok.PINHash = hash
		}
		if err := e.tokens.Create(ctx, tok); err != nil {
			return nil, err
		}
	} else {
		if tok.Type != typ {
			return nil, api.NewError(api.CodeParameter, "token %s has type %q, not %q", serial, tok.Type, typ)
		}
		if tok.RolloutState == domain.RolloutEnrolled {
			return nil, api.NewError(api.CodeParameter, "token %s is already enrolled", serial)
		}
	}

	if err := v.BeginEnrollment(ctx, tok, p); err != nil {
		return nil, err
	}
	return v.EnrollmentDetail(ctx, tok, p)
}

// ContinueEnrollment handles the second enrollment step arriving from the
// device channel. The token for the submitted serial may not exist or may be
// in the wrong state; the variant reports the distinguishing error.
func (e *Engine) ContinueEnrollment(ctx context.Context, typ string, p Params) (map[string]interface{}, error) {
	v, err := e.Variant(typ)
	if err != nil {
		return nil, err
	}
	tok, err := e.tokens.GetBySerial(ctx, p.Get("serial"))
	if err != nil {
		return nil, err
	}
	if err := v.ContinueEnrollment(ctx, tok, p); err != nil {
		return nil, err
	}
	return v.EnrollmentDetail(ctx, tok, p)
}

// SetPIN hashes and stores a new PIN on the token.
func (e *Engine) SetPIN(ctx context.Context, serial, pin string) error {
	tok, err := e.tokens.GetBySerial(ctx, serial)
	if err != nil {
		return err
	}
	if tok == nil {
		return api.NewError(api.CodeParameter, "no token with serial %s", serial)
	}
	hash, err := e.hasher.Hash([]byte(pin))
	if err != nil {
		return err
	}
	tok.PINHash = hash
	return e.tokens.Update(ctx, tok)
}

// AssignOwner binds the token to a user and realm.
func (e *Engine) AssignOwner(ctx context.Context, serial, user, realm string) error {
	tok, err := e.tokens.GetBySerial(ctx, serial)
	if err != nil {
		return err
	}
	if tok == nil {
		return api.NewError(api.CodeParameter, "no token with serial %s", serial)
	}
	tok.OwnerUser = user
	tok.OwnerRealm = realm
	return e.tokens.Update(ctx, tok)
}

// GenerateSerial returns a fresh serial for typ: the upper-cased type tag
// followed by eight hex digits.
func GenerateSerial(typ string) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(typ) + strings.ToUpper(hex.EncodeToString(b)), nil
}

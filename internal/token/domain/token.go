package domain

import (
	"fmt"
	"time"
)

// RolloutState is a token's position in its enrollment lifecycle.
type RolloutState string

const (
	RolloutNotStarted RolloutState = "not_started"
	RolloutClientWait RolloutState = "clientwait"
	RolloutEnrolled   RolloutState = "enrolled"
)

// CanTransition reports whether moving from s to next is a valid rollout
// transition. Transitions are one-directional; there is no automatic reversal.
// A single-step token type moves from not_started straight to enrolled.
func (s RolloutState) CanTransition(next RolloutState) bool {
	switch s {
	case RolloutNotStarted:
		return next == RolloutClientWait || next == RolloutEnrolled
	case RolloutClientWait:
		return next == RolloutEnrolled
	default:
		return false
	}
}

// Token-info keys the push token variant relies on. The token-info mapping is
// open, but these keys are part of the variant's contract.
const (
	// InfoEnrollmentCredential is the single-use secret issued at enrollment
	// step 1 and consumed on successful step 2.
	InfoEnrollmentCredential = "enrollment_credential"
	// InfoFirebaseToken is the device's push address.
	InfoFirebaseToken = "firebase_token"
	// InfoPublicKeySmartphone is the device public key submitted in step 2.
	InfoPublicKeySmartphone = "public_key_smartphone"
	// InfoPublicKeyServer is the server public key in PKCS#1 armored form.
	InfoPublicKeyServer = "public_key_server"
	// InfoFirebaseConfig is the name of the push gateway configuration
	// resolved from the enrollment policy at step 1.
	InfoFirebaseConfig = "push_firebase_configuration"
)

// Token is a persistent second-factor credential record. Secret holds
// type-specific private material (the server private key for push tokens) and
// must never appear in any API detail payload. Info is the open string/string
// token-info mapping.
type Token struct {
	ID           string
	Serial       string
	Type         string
	RolloutState RolloutState
	Active       bool
	PINHash      string
	OwnerUser    string
	OwnerRealm   string
	Secret       string
	Info         map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Transition moves the token to next after validating the rollout
// transition. Re-asserting the current state is a no-op.
func (t *Token) Transition(next RolloutState) error {
	if next == t.RolloutState {
		return nil
	}
	if !t.RolloutState.CanTransition(next) {
		return fmt.Errorf("invalid rollout transition %s to %s", t.RolloutState, next)
	}
	t.RolloutState = next
	return nil
}

// Clone returns a deep copy of the token, including the token-info map.
// Callers use it to stage a state change that must not become visible before
// the repository confirms the transition.
func (t *Token) Clone() *Token {
	c := *t
	if t.Info != nil {
		c.Info = make(map[string]string, len(t.Info))
		for k, v := range t.Info {
			c.Info[k] = v
		}
	}
	return &c
}

// GetInfo returns the token-info value for key, or "" if absent.
func (t *Token) GetInfo(key string) string {
	if t.Info == nil {
		return ""
	}
	return t.Info[key]
}

// SetInfo sets a token-info key. The change is persisted on the next repository update.
func (t *Token) SetInfo(key, value string) {
	if t.Info == nil {
		t.Info = make(map[string]string)
	}
	t.Info[key] = value
}

// DeleteInfo removes a token-info key.
func (t *Token) DeleteInfo(key string) {
	delete(t.Info, key)
}

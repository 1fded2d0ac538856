package domain

import (
	"strings"
	"time"
)

// Scopes a policy may apply to.
const (
	ScopeEnrollment     = "enrollment"
	ScopeAuthentication = "authentication"
)

// Action names consumed by the token variants and the orchestrator.
const (
	// ActionFirebaseConfig names the push gateway configuration used for
	// enrollment and challenge dispatch. Required by the push token type.
	ActionFirebaseConfig = "push_firebase_configuration"
	// ActionPushText overrides the challenge prompt shown on the device.
	ActionPushText = "push_text"
	// ActionOTPPINMode selects how the PIN combines with the proof value:
	// "prepend" (default) or "append".
	ActionOTPPINMode = "otppin_mode"
)

// Policy is one stored rule set. Realm, User, and Client are match
// restrictions; an empty restriction matches any value. Action holds the
// resolved action parameters as "key=value" pairs separated by commas.
type Policy struct {
	ID        string
	Name      string
	Scope     string
	Realm     string
	User      string
	Client    string
	Action    string
	Enabled   bool
	CreatedAt time.Time
}

// Actions parses the Action string into a key/value map. Entries without "="
// become flag actions with value "true".
func (p *Policy) Actions() map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(p.Action, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if k, v, found := strings.Cut(part, "="); found {
			out[strings.TrimSpace(k)] = strings.TrimSpace(v)
		} else {
			out[part] = "true"
		}
	}
	return out
}

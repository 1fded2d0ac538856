package domain

import "time"

// Actions recorded by the authentication and enrollment paths.
const (
	ActionEnrollStart    = "enroll_start"
	ActionEnrollComplete = "enroll_complete"
	ActionEnrollReject   = "enroll_reject"
	ActionValidateCheck  = "validate_check"
	ActionChallengeSent  = "challenge_sent"
	ActionConfirm        = "challenge_confirm"
	ActionConfirmReject  = "challenge_reject"
	ActionTokenDelete    = "token_delete"
	ActionSetPIN         = "set_pin"
	ActionAssign         = "assign"
)

// AuditLog is one recorded security event. Info carries free-form detail and
// must never contain secrets, PINs, or key material.
type AuditLog struct {
	ID        string
	Username  string
	Realm     string
	Serial    string
	Action    string
	Success   bool
	IP        string
	Info      string
	CreatedAt time.Time
}

package engine

import (
	"context"
	"testing"
	"time"

	"credential-server/backend/internal/policy/domain"
)

type memPolicyRepo struct {
	policies []*domain.Policy
}

func (r *memPolicyRepo) GetEnabledByScope(ctx context.Context, scope string) ([]*domain.Policy, error) {
	var out []*domain.Policy
	for _, p := range r.policies {
		if p.Scope == scope && p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memPolicyRepo) Create(ctx context.Context, p *domain.Policy) error {
	r.policies = append(r.policies, p)
	return nil
}

func (r *memPolicyRepo) Delete(ctx context.Context, name string) error { return nil }

func newPolicy(name, scope, realm, user, action string) *domain.Policy {
	return &domain.Policy{
		ID: name, Name: name, Scope: scope, Realm: realm, User: user,
		Action: action, Enabled: true, CreatedAt: time.Now().UTC(),
	}
}

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	e, err := NewOPAEvaluator(&memPolicyRepo{})
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_EmptyResultWithoutPolicies(t *testing.T) {
	e, err := NewOPAEvaluator(&memPolicyRepo{})
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	actions, err := e.Resolve(context.Background(), domain.ScopeEnrollment, Request{User: "cornelius", Realm: "realm1"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(actions) != 0 {
		t.Errorf("actions = %v, want empty", actions)
	}
}

func TestOPAEvaluator_ResolvesMatchingScope(t *testing.T) {
	repo := &memPolicyRepo{policies: []*domain.Policy{
		newPolicy("push1", domain.ScopeEnrollment, "", "", "push_firebase_configuration=fb1"),
		newPolicy("auth1", domain.ScopeAuthentication, "", "", "otppin_mode=append"),
	}}
	e, err := NewOPAEvaluator(repo)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	actions, err := e.Resolve(context.Background(), domain.ScopeEnrollment, Request{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if actions[domain.ActionFirebaseConfig] != "fb1" {
		t.Errorf("firebase config = %q, want %q", actions[domain.ActionFirebaseConfig], "fb1")
	}
	if _, ok := actions[domain.ActionOTPPINMode]; ok {
		t.Error("authentication-scope action leaked into enrollment resolution")
	}
}

func TestOPAEvaluator_MostSpecificWins(t *testing.T) {
	repo := &memPolicyRepo{policies: []*domain.Policy{
		newPolicy("broad", domain.ScopeEnrollment, "", "", "push_firebase_configuration=fb-default"),
		newPolicy("realm", domain.ScopeEnrollment, "realm1", "", "push_firebase_configuration=fb-realm"),
		newPolicy("user", domain.ScopeEnrollment, "realm1", "cornelius", "push_firebase_configuration=fb-user"),
	}}
	e, err := NewOPAEvaluator(repo)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}

	cases := []struct {
		user, realm string
		want        string
	}{
		{"cornelius", "realm1", "fb-user"},
		{"selfservice", "realm1", "fb-realm"},
		{"selfservice", "realm2", "fb-default"},
	}
	for _, c := range cases {
		actions, err := e.Resolve(context.Background(), domain.ScopeEnrollment, Request{User: c.user, Realm: c.realm})
		if err != nil {
			t.Fatalf("Resolve(%s@%s): %v", c.user, c.realm, err)
		}
		if got := actions[domain.ActionFirebaseConfig]; got != c.want {
			t.Errorf("Resolve(%s@%s) = %q, want %q", c.user, c.realm, got, c.want)
		}
	}
}

func TestOPAEvaluator_RestrictedPolicyDoesNotMatchOthers(t *testing.T) {
	repo := &memPolicyRepo{policies: []*domain.Policy{
		newPolicy("user-only", domain.ScopeEnrollment, "realm1", "cornelius", "push_firebase_configuration=fb1"),
	}}
	e, err := NewOPAEvaluator(repo)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	actions, err := e.Resolve(context.Background(), domain.ScopeEnrollment, Request{User: "someone", Realm: "realm2"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(actions) != 0 {
		t.Errorf("actions = %v, want empty for non-matching context", actions)
	}
}

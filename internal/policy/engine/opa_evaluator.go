package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"credential-server/backend/internal/policy/repository"
)

// Rego module that picks the most specific applicable rule set: a user match
// outweighs a realm match, which outweighs a client match. Rule sets tied on
// specificity have their action maps merged.
const resolveRegoModule = `package credsrv.policy

default actions := {}

applicable := [p |
	some p in input.policies
	p.scope == input.scope
	match(p.user, input.user)
	match(p.realm, input.realm)
	match(p.client, input.client)
]

match(restriction, _) if restriction == ""
match(restriction, value) if restriction == value

bit(x) := 1 if x != ""
bit(x) := 0 if x == ""

weight(p) := 4 * bit(p.user) + 2 * bit(p.realm) + bit(p.client)

best := max([weight(p) | some p in applicable]) if count(applicable) > 0

actions := object.union_n([p.actions | some p in applicable; weight(p) == best]) if count(applicable) > 0
`

const resolveQuery = "data.credsrv.policy.actions"

// OPAEvaluator resolves policy actions by evaluating stored policy records
// through an embedded OPA Rego engine.
type OPAEvaluator struct {
	policyRepo repository.Repository
	compiler   *ast.Compiler
}

// NewOPAEvaluator returns an OPA-based policy evaluator. Returns an error if
// the built-in resolution module does not compile.
func NewOPAEvaluator(policyRepo repository.Repository) (*OPAEvaluator, error) {
	compiler, err := ast.CompileModules(map[string]string{"resolve.rego": resolveRegoModule})
	if err != nil {
		return nil, fmt.Errorf("compile policy module: %w", err)
	}
	return &OPAEvaluator{policyRepo: policyRepo, compiler: compiler}, nil
}

// HealthCheck verifies that the in-process Rego engine can evaluate the
// resolution module. Does not touch the policy repo or database.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.eval(ctx, map[string]interface{}{
		"scope": "enrollment", "user": "", "realm": "", "client": "",
		"policies": []interface{}{},
	})
	return err
}

// Resolve evaluates all enabled policies of scope against the request context
// and returns the merged action map of the most specific applicable rule set.
func (e *OPAEvaluator) Resolve(ctx context.Context, scope string, req Request) (map[string]string, error) {
	policies, err := e.policyRepo.GetEnabledByScope(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load %s policies: %w", scope, err)
	}
	inputPolicies := make([]interface{}, 0, len(policies))
	for _, p := range policies {
		actions := map[string]interface{}{}
		for k, v := range p.Actions() {
			actions[k] = v
		}
		inputPolicies = append(inputPolicies, map[string]interface{}{
			"scope":   p.Scope,
			"user":    p.User,
			"realm":   p.Realm,
			"client":  p.Client,
			"actions": actions,
		})
	}
	value, err := e.eval(ctx, map[string]interface{}{
		"scope":    scope,
		"user":     req.User,
		"realm":    req.Realm,
		"client":   req.Client,
		"policies": inputPolicies,
	})
	if err != nil {
		return nil, err
	}
	raw, ok := value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("policy query returned %T, want object", value)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out, nil
}

func (e *OPAEvaluator) eval(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	q := rego.New(
		rego.Query(resolveQuery),
		rego.Compiler(e.compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, fmt.Errorf("policy query returned no result")
	}
	return rs[0].Expressions[0].Value, nil
}

package engine

import "context"

// Request carries the context attributes of one policy evaluation.
type Request struct {
	User   string
	Realm  string
	Client string
}

// Evaluator resolves the action parameters applying to one scope and request
// context. An empty map (no matching policy) is not an error; callers decide
// whether an action is required.
type Evaluator interface {
	Resolve(ctx context.Context, scope string, req Request) (map[string]string, error)
}

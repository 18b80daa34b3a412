package draft

import "context"

// Request is one fully built generation request. Building is
// deterministic: the same profile snapshots and score produce the same
// request bytes, so a regeneration is reproducible.
type Request struct {
	System string
	Prompt string
}

// Generator produces draft text from a request. Implementations return
// the raw model output; parsing and validation happen in the service.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

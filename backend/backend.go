// Package backend defines the automation backends an agent can run on.
package backend

import (
	"context"
	"encoding/json"

	"github.com/agentarena/orchestrator/domain"
)

// RunInput is everything a backend needs to execute one instruction inside
// an already-provisioned remote browser session.
type RunInput struct {
	Instruction      string
	Model            string // "provider/model"
	CDPURL           string
	BrowserSessionID string
	// Caller-supplied provider credentials, forwarded read-only.
	Credentials map[string]string
}

// RunOutput is the shared result envelope every backend reports.
type RunOutput struct {
	Success bool
	Message string
	Actions []domain.Action
	Usage   domain.Usage
	// Backend-specific payload, stored verbatim on the agent record.
	Data json.RawMessage
}

// Backend executes one instruction against one browser session.
type Backend interface {
	Name() string
	Run(ctx context.Context, in RunInput) (*RunOutput, error)
	// ManagesBrowser reports whether the backend releases the browser
	// session itself. The dispatcher skips its own release when true.
	ManagesBrowser() bool
}

// Registry maps backend names to implementations.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry creates a registry from the given backends.
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		r.backends[b.Name()] = b
	}
	return r
}

// Get looks up a backend by name.
func (r *Registry) Get(name string) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// Names returns the registered backend names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}

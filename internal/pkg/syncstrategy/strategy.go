package syncstrategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gh900098/Mini-Game-Cursor-sub000/app/models"
	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/jobqueue"
)

// Params selects what a strategy run does
type Params struct {
	Type           string
	Batch          bool
	ExternalUserID string
	Payload        map[string]interface{}
	Source         jobqueue.Source
	JobID          string
}

// Result is stored with the job record once the run completes.
// Skipped results are validation or configuration problems that a retry cannot fix.
type Result struct {
	Success     bool   `json:"success"`
	Skipped     bool   `json:"skipped,omitempty"`
	Reason      string `json:"reason,omitempty"`
	MemberID    string `json:"memberId,omitempty"`
	Queued      int    `json:"queued,omitempty"`
	Pages       int    `json:"pages,omitempty"`
	PointsAdded int64  `json:"pointsAdded,omitempty"`
	Duplicate   bool   `json:"duplicate,omitempty"`
}

// Skip builds a skipped result
func Skip(reason string) *Result {
	return &Result{Success: false, Skipped: true, Reason: reason}
}

// Strategy runs one sync operation for a company against its provider
type Strategy interface {
	Execute(ctx context.Context, companyID string, cfg *models.IntegrationConfig, params Params) (*Result, error)
}

// Provider identifies an external platform
type Provider string

const ProviderJK Provider = "JK"

// ErrUnsupportedProvider is returned for providers without a registered strategy
var ErrUnsupportedProvider = errors.New("unsupported sync provider")

// Registry maps providers to strategies. It is built once at startup.
type Registry struct {
	strategies map[Provider]Strategy
}

// NewRegistry creates a registry from the given strategies
func NewRegistry(strategies map[Provider]Strategy) *Registry {
	r := &Registry{strategies: make(map[Provider]Strategy, len(strategies))}
	for p, s := range strategies {
		r.strategies[normalize(string(p))] = s
	}
	return r
}

// Get returns the strategy of provider, matched case-insensitively.
func (r *Registry) Get(provider string) (Strategy, error) {
	s, ok := r.strategies[normalize(provider)]
	if !ok {
		return nil, jobqueue.Permanent(fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider))
	}
	return s, nil
}

// Providers lists the registered providers
func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.strategies))
	for p := range r.strategies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func normalize(provider string) Provider {
	return Provider(strings.ToUpper(strings.TrimSpace(provider)))
}

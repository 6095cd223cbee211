package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Pool fails over between several endpoints serving the same network. Calls
// go to the current provider; a transport failure moves to the next available
// one and retries there, at most once per provider. Node-level JSON-RPC
// errors are returned as is since every endpoint would answer the same.
type Pool struct {
	mu        sync.RWMutex
	providers []Provider
	current   int
}

var _ Provider = (*Pool)(nil)

// NewPool creates a pool over providers. The first one is preferred.
func NewPool(providers ...Provider) (*Pool, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers in pool")
	}
	return &Pool{providers: providers}, nil
}

// Call invokes method on the current provider, failing over on transport errors.
func (p *Pool) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	start, n := p.start()

	var errs []error
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		prov := p.providers[idx]

		result, err := prov.Call(ctx, method, params)
		if err == nil {
			p.setCurrent(idx)
			return result, nil
		}

		var rpcErr *RPCError
		if errors.As(err, &rpcErr) || ctx.Err() != nil {
			return nil, err
		}
		errs = append(errs, fmt.Errorf("%s: %w", prov.GetName(), err))
	}
	return nil, errors.Join(errs...)
}

// start picks the first available provider at or after current.
func (p *Pool) start() (int, int) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := len(p.providers)
	for i := 0; i < n; i++ {
		idx := (p.current + i) % n
		if p.providers[idx].GetHealth().Available {
			return idx, n
		}
	}
	return p.current, n
}

func (p *Pool) setCurrent(idx int) {
	p.mu.Lock()
	p.current = idx
	p.mu.Unlock()
}

// GetName lists the pooled providers.
func (p *Pool) GetName() string {
	names := make([]string, len(p.providers))
	for i, prov := range p.providers {
		names[i] = prov.GetName()
	}
	return strings.Join(names, ",")
}

// GetHealth returns the health of the current provider.
func (p *Pool) GetHealth() HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.providers[p.current].GetHealth()
}

// Close closes every provider.
func (p *Pool) Close() error {
	var errs []error
	for _, prov := range p.providers {
		if err := prov.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

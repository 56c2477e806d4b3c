package data

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
)

var errEmptyChain = errors.New("no providers configured")

// Chain tries each provider in order and returns the first successful answer.
type Chain struct {
	providers []Provider
}

// NewChain builds a provider chain. Nil providers are skipped.
func NewChain(providers ...Provider) *Chain {
	list := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			list = append(list, p)
		}
	}
	return &Chain{providers: list}
}

// Fetch returns the first successful answer. If every provider refused the
// lookup the last refusal is returned; a transport failure wins over refusals.
func (c *Chain) Fetch(ctx context.Context, ip netip.Addr) (Attributes, error) {
	if len(c.providers) == 0 {
		return Attributes{}, errEmptyChain
	}

	var (
		refused   *LookupError
		transport error
	)
	for _, p := range c.providers {
		attrs, err := p.Fetch(ctx, ip)
		if err == nil {
			return attrs, nil
		}

		var lookupErr *LookupError
		if errors.As(err, &lookupErr) {
			refused = lookupErr
			continue
		}
		transport = errors.Join(transport, err)
	}

	if transport != nil {
		return Attributes{}, fmt.Errorf("all providers failed: %w", transport)
	}
	return Attributes{}, refused
}

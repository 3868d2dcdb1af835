package artifact

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fetch-github-hosts/fgh/internal/failure"
	"github.com/fetch-github-hosts/fgh/internal/resolver"
)

// Publisher runs one server cycle: resolve every domain once, then render
// and store both artifacts from that single pass.
type Publisher struct {
	Resolver resolver.Resolver
	Domains  func() ([]string, error)
	Store    *Store
	Options  resolver.Options
	Clock    clockwork.Clock
}

// Publish resolves and writes the artifacts.
func (p *Publisher) Publish(ctx context.Context) (Artifacts, error) {
	domains, err := p.Domains()
	if err != nil {
		return Artifacts{}, failure.New(failure.KindIO, "load domain list", err)
	}

	entries := resolver.ResolveAll(ctx, p.Resolver, domains, p.Options)

	a, err := Build(entries, p.now())
	if err != nil {
		return Artifacts{}, failure.New(failure.KindWrite, "render artifacts", err)
	}
	if err := p.Store.Write(a); err != nil {
		return Artifacts{}, err
	}
	return a, nil
}

func (p *Publisher) now() time.Time {
	if p.Clock == nil {
		return time.Now()
	}
	return p.Clock.Now()
}

package pool

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/soragate/soragate/internal/catalog"
	"github.com/soragate/soragate/internal/store"
)

var (
	// ErrUnavailable: no credential is currently usable at all.
	ErrUnavailable = errors.New("no available credential")
	// ErrNoEligibleCredential: the pool has credentials, but none satisfies
	// the requested tier or media kind. Not retried by rotation.
	ErrNoEligibleCredential = errors.New("no eligible credential")
)

// Persister is the narrow slice of the store the pool writes through.
type Persister interface {
	SaveCredentialState(ctx context.Context, c *store.Credential) error
}

type Options struct {
	FailureThreshold int
	CooldownWindow   time.Duration
	MaxCooldowns     int
}

// Pool holds the rotation state shared by all in-flight requests. The
// round-robin pointer and the per-credential counters are only touched under
// mu, one advance per Acquire.
type Pool struct {
	mu    sync.Mutex
	creds []*store.Credential
	next  uint64

	persist Persister
	opts    Options
}

func New(creds []store.Credential, persist Persister, opts Options) *Pool {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	if opts.CooldownWindow <= 0 {
		opts.CooldownWindow = 5 * time.Minute
	}
	if opts.MaxCooldowns <= 0 {
		opts.MaxCooldowns = 3
	}
	p := &Pool{persist: persist, opts: opts}
	for i := range creds {
		c := creds[i]
		p.creds = append(p.creds, &c)
	}
	return p
}

// Acquire picks the next usable credential for the given tier and media kind.
// The pointer advances exactly once per call so concurrent requests fan out
// across the pool fairly.
func (p *Pool) Acquire(tier catalog.Tier, kind catalog.MediaKind) (store.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.creds) == 0 {
		return store.Credential{}, ErrUnavailable
	}

	start := int(p.next % uint64(len(p.creds)))
	p.next++

	now := time.Now()
	anyUsable := false
	for i := 0; i < len(p.creds); i++ {
		c := p.creds[(start+i)%len(p.creds)]
		if !p.usable(c, now) {
			continue
		}
		anyUsable = true
		if !eligible(c, tier, kind) {
			continue
		}
		return *c, nil
	}

	if anyUsable {
		// Usable credentials exist, just not for this tier/kind.
		return store.Credential{}, ErrNoEligibleCredential
	}
	return store.Credential{}, ErrUnavailable
}

func (p *Pool) usable(c *store.Credential, now time.Time) bool {
	switch c.Status {
	case store.CredHealthy:
	case store.CredCoolingDown:
		if c.CooldownUntil == nil || now.Before(*c.CooldownUntil) {
			return false
		}
		// cooldown elapsed: eligible again, exhaustion is decided on the
		// next failure streak
	default:
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return true
}

func eligible(c *store.Credential, tier catalog.Tier, kind catalog.MediaKind) bool {
	if tier != catalog.TierStandard && !c.Pro() {
		return false
	}
	switch kind {
	case catalog.KindImage:
		return c.ImageEnabled
	case catalog.KindVideo:
		return c.VideoEnabled
	}
	return false
}

// ReportSuccess resets the failure streak and refreshes last-used time.
func (p *Pool) ReportSuccess(ctx context.Context, id uint) {
	p.mu.Lock()
	c := p.byID(id)
	if c == nil {
		p.mu.Unlock()
		return
	}
	now := time.Now()
	c.Failures = 0
	c.Cooldowns = 0
	c.Status = store.CredHealthy
	c.CooldownUntil = nil
	c.LastUsedAt = &now
	snapshot := *c
	p.mu.Unlock()

	p.save(ctx, &snapshot)
}

// ReportFailure bumps the failure streak; at the threshold the credential
// cools down, and after too many cooldown rounds without a success it is
// exhausted until manually re-enabled.
func (p *Pool) ReportFailure(ctx context.Context, id uint) {
	p.mu.Lock()
	c := p.byID(id)
	if c == nil {
		p.mu.Unlock()
		return
	}
	c.Failures++
	if c.Failures >= p.opts.FailureThreshold {
		c.Failures = 0
		c.Cooldowns++
		if c.Cooldowns > p.opts.MaxCooldowns {
			c.Status = store.CredExhausted
			c.CooldownUntil = nil
		} else {
			until := time.Now().Add(p.opts.CooldownWindow)
			c.Status = store.CredCoolingDown
			c.CooldownUntil = &until
		}
	}
	snapshot := *c
	p.mu.Unlock()

	p.save(ctx, &snapshot)
}

func (p *Pool) byID(id uint) *store.Credential {
	for _, c := range p.creds {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (p *Pool) save(ctx context.Context, c *store.Credential) {
	if p.persist == nil {
		return
	}
	if err := p.persist.SaveCredentialState(ctx, c); err != nil {
		log.Printf("pool: persist credential=%d failed: %v", c.ID, err)
	}
}

// Available reports whether Acquire would currently succeed, without
// advancing the rotation pointer.
func (p *Pool) Available(tier catalog.Tier, kind catalog.MediaKind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for _, c := range p.creds {
		if p.usable(c, now) && eligible(c, tier, kind) {
			return true
		}
	}
	return false
}

// Size reports how many credentials are loaded, for startup logging.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Package resolution decides how conflicts are resolved: which actions a
// conflict offers, which stored preferences may answer without asking, and
// how a prompt is awaited without blocking other paths.
package resolution

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/Aman-CERP/mdsentry/internal/conflict"
	serrors "github.com/Aman-CERP/mdsentry/internal/errors"
)

// ScopeGlobal is the scope key of preferences that apply to every path.
const ScopeGlobal = "global"

// Preference is a remembered choice for a kind of conflict.
type Preference struct {
	// ScopeKey is a canonical path or ScopeGlobal.
	ScopeKey string        `json:"scope_key"`
	Kind     conflict.Kind `json:"kind"`
	Action   Action        `json:"action"`

	// RememberAcrossSession persists the preference in the durable store.
	// Session preferences are lost on exit and never auto-apply a
	// destructive action.
	RememberAcrossSession bool `json:"remember_across_session"`
}

type prefKey struct {
	scope string
	kind  conflict.Kind
}

// Store persists durable preferences.
type Store interface {
	Load(ctx context.Context) ([]Preference, error)
	Save(ctx context.Context, p Preference) error
	Delete(ctx context.Context, scope string, kind conflict.Kind) error
}

// Prompter asks the user to choose among offered actions. Implementations
// must return promptly with ctx.Err() once ctx is cancelled.
type Prompter interface {
	Prompt(ctx context.Context, c *conflict.Conflict, offered []Action) (Resolution, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, c *conflict.Conflict, offered []Action) (Resolution, error)

// Prompt calls f.
func (f PrompterFunc) Prompt(ctx context.Context, c *conflict.Conflict, offered []Action) (Resolution, error) {
	return f(ctx, c, offered)
}

// Policy resolves conflicts from preferences or a prompt.
type Policy struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	session map[prefKey]Preference
	durable map[prefKey]Preference
}

// NewPolicy creates a policy and loads durable preferences from store.
// A nil store keeps durable preferences in memory only.
func NewPolicy(ctx context.Context, store Store, logger *slog.Logger) (*Policy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Policy{
		store:   store,
		logger:  logger,
		session: make(map[prefKey]Preference),
		durable: make(map[prefKey]Preference),
	}
	if store == nil {
		return p, nil
	}
	prefs, err := store.Load(ctx)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodePreferenceStore, "failed to load preferences", err)
	}
	for _, pref := range prefs {
		p.durable[prefKey{pref.ScopeKey, pref.Kind}] = pref
	}
	return p, nil
}

// Resolve returns a stored answer for c, consulting the path scope before
// the global scope. A destructive action is only returned from a durable
// preference. Conflicts recovered from a backup always need a prompt.
func (p *Policy) Resolve(c *conflict.Conflict) (Action, bool) {
	if c.Source == conflict.SourceBackup {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, scope := range []string{c.Path, ScopeGlobal} {
		key := prefKey{scope, c.Kind}
		if pref, ok := p.durable[key]; ok && IsOffered(c.Kind, pref.Action) {
			return pref.Action, true
		}
		if pref, ok := p.session[key]; ok && IsOffered(c.Kind, pref.Action) {
			if pref.Action.IsDestructive() {
				continue
			}
			return pref.Action, true
		}
	}
	return "", false
}

// Decide answers c from preferences or by awaiting prompter. Only the
// calling goroutine waits; cancelling ctx abandons the prompt and returns
// ctx.Err() with no resolution.
func (p *Policy) Decide(ctx context.Context, c *conflict.Conflict, prompter Prompter) (Resolution, error) {
	if a, ok := p.Resolve(c); ok {
		p.logger.Debug("conflict resolved by preference",
			slog.String("path", c.Path),
			slog.String("kind", string(c.Kind)),
			slog.String("action", string(a)))
		return Resolution{ConflictID: c.ID, Action: a, Auto: true}, nil
	}
	if prompter == nil {
		return Resolution{}, serrors.New(serrors.ErrCodeInvalidInput, "no prompter available for conflict", nil).
			WithDetail("path", c.Path)
	}

	type result struct {
		res Resolution
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := prompter.Prompt(ctx, c, Offered(c.Kind))
		done <- result{res, err}
	}()

	select {
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return Resolution{}, r.err
		}
		res := r.res
		res.ConflictID = c.ID
		if res.Action == "" {
			res.Action = ActionDismiss
		}
		if err := p.Validate(c, res.Action); err != nil {
			return Resolution{}, err
		}
		return res, nil
	}
}

// Validate checks that a is offered for c.
func (p *Policy) Validate(c *conflict.Conflict, a Action) error {
	if IsOffered(c.Kind, a) {
		return nil
	}
	return serrors.New(serrors.ErrCodeActionNotOffered, "action is not offered for this conflict", nil).
		WithDetail("kind", string(c.Kind)).
		WithDetail("action", string(a))
}

// Remember stores a preference. Durable preferences are written through to
// the store.
func (p *Policy) Remember(ctx context.Context, pref Preference) error {
	if pref.ScopeKey == "" {
		return serrors.ValidationError("preference scope is required", nil)
	}
	if !IsOffered(pref.Kind, pref.Action) || pref.Action == ActionDismiss {
		return serrors.New(serrors.ErrCodeActionNotOffered, "action is not offered for this conflict kind", nil).
			WithDetail("kind", string(pref.Kind)).
			WithDetail("action", string(pref.Action))
	}
	if !pref.Action.Rememberable() {
		return serrors.ValidationError("action cannot be remembered: "+string(pref.Action), nil)
	}

	key := prefKey{pref.ScopeKey, pref.Kind}
	if pref.RememberAcrossSession && p.store != nil {
		if err := p.store.Save(ctx, pref); err != nil {
			return serrors.New(serrors.ErrCodePreferenceStore, "failed to save preference", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if pref.RememberAcrossSession {
		p.durable[key] = pref
		delete(p.session, key)
	} else {
		p.session[key] = pref
	}
	return nil
}

// Forget removes the session and durable preference for scope and kind.
func (p *Policy) Forget(ctx context.Context, scope string, kind conflict.Kind) error {
	key := prefKey{scope, kind}
	p.mu.Lock()
	_, durable := p.durable[key]
	delete(p.durable, key)
	delete(p.session, key)
	p.mu.Unlock()

	if durable && p.store != nil {
		if err := p.store.Delete(ctx, scope, kind); err != nil {
			return serrors.New(serrors.ErrCodePreferenceStore, "failed to delete preference", err)
		}
	}
	return nil
}

// ForgetSession drops session preferences for scope, or all of them when
// scope is empty.
func (p *Policy) ForgetSession(scope string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.session {
		if scope == "" || k.scope == scope {
			delete(p.session, k)
		}
	}
}

// Preferences lists every preference, durable ones first, each group
// sorted by scope then kind.
func (p *Policy) Preferences() []Preference {
	p.mu.Lock()
	defer p.mu.Unlock()

	collect := func(m map[prefKey]Preference) []Preference {
		out := make([]Preference, 0, len(m))
		for _, pref := range m {
			out = append(out, pref)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].ScopeKey != out[j].ScopeKey {
				return out[i].ScopeKey < out[j].ScopeKey
			}
			return out[i].Kind < out[j].Kind
		})
		return out
	}
	return append(collect(p.durable), collect(p.session)...)
}

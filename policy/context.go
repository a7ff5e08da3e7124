package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum-optimism/infra/op-caserunner/meta"
)

// Context holds one strategy per failure kind plus per error type overrides
// for unexpected errors. Slots may be temporarily overridden; Restore puts the
// configured defaults back.
type Context struct {
	mu           sync.Mutex
	defaults     [numKinds]Strategy
	slots        [numKinds]Strategy
	associations map[string]Strategy
	overrides    int
	generation   uint64 // bumped by Restore; undos from older generations are stale
}

// NewContext creates a context with the default reactions: unexpected errors
// abort the case, everything else is tolerated.
func NewContext() *Context {
	c := &Context{associations: make(map[string]Strategy)}
	c.defaults = [numKinds]Strategy{
		KindError:      Rethrow{},
		KindFailure:    Swallow{},
		KindIncomplete: Swallow{},
		KindSkip:       Swallow{},
	}
	c.slots = c.defaults
	return c
}

// Configure binds s to kind, both as the current and the default strategy.
func (c *Context) Configure(kind Kind, s Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaults[kind] = s
	c.slots[kind] = s
}

// Strategy returns the strategy currently bound to kind.
func (c *Context) Strategy(kind Kind) Strategy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots[kind]
}

// Associate binds s to unexpected errors of the given type name (pkg.Name,
// or Name to match any package).
func (c *Context) Associate(typeName string, s Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.associations[strings.TrimPrefix(typeName, "*")] = s
}

// Override rebinds every slot to s and suspends type associations until the
// returned undo is called. Overrides nest; undo restores the slots that were
// bound when Override was called.
func (c *Context) Override(s Strategy) (undo func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	saved := c.slots
	generation := c.generation
	for k := range c.slots {
		c.slots[k] = s
	}
	c.overrides++

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.generation != generation || c.overrides == 0 {
				// Restore ran since this override; the defaults win.
				return
			}
			c.slots = saved
			c.overrides--
		})
	}
}

// Restore resets every slot to its configured default. Called between cases
// so overrides never leak across case boundaries.
func (c *Context) Restore() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots = c.defaults
	c.overrides = 0
	c.generation++
}

// OnError reacts to an unexpected error. Type associations are consulted
// before the error slot unless an override is active.
func (c *Context) OnError(err error) (int, error) {
	return c.strategyForError(err).React(KindError, err)
}

// OnFailure reacts to an assertion failure.
func (c *Context) OnFailure(err error) (int, error) {
	return c.Strategy(KindFailure).React(KindFailure, err)
}

// OnIncomplete reacts to an incomplete test.
func (c *Context) OnIncomplete(err error) (int, error) {
	return c.Strategy(KindIncomplete).React(KindIncomplete, err)
}

// OnSkip reacts to a skipped test.
func (c *Context) OnSkip(err error) (int, error) {
	return c.Strategy(KindSkip).React(KindSkip, err)
}

// On dispatches to the handler for kind.
func (c *Context) On(kind Kind, err error) (int, error) {
	switch kind {
	case KindError:
		return c.OnError(err)
	case KindFailure:
		return c.OnFailure(err)
	case KindIncomplete:
		return c.OnIncomplete(err)
	case KindSkip:
		return c.OnSkip(err)
	}
	return 1, fmt.Errorf("unknown failure kind %d: %w", int(kind), err)
}

func (c *Context) strategyForError(err error) Strategy {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overrides == 0 && len(c.associations) > 0 {
		for _, name := range meta.TypeNames(err) {
			if s, ok := c.associations[name]; ok {
				return s
			}
			if i := strings.LastIndex(name, "."); i >= 0 {
				if s, ok := c.associations[name[i+1:]]; ok {
					return s
				}
			}
		}
	}
	return c.slots[KindError]
}

// Config is the serializable form of a Context.
type Config struct {
	Error        string            `yaml:"error" json:"error,omitempty"`
	Failure      string            `yaml:"failure" json:"failure,omitempty"`
	Incomplete   string            `yaml:"incomplete" json:"incomplete,omitempty"`
	Skip         string            `yaml:"skip" json:"skip,omitempty"`
	Associations map[string]string `yaml:"associations" json:"associations,omitempty"`
	Strict       bool              `yaml:"strict" json:"strict,omitempty"`
}

// NewContextFromConfig builds a context; empty slot names keep the defaults.
func NewContextFromConfig(cfg Config) (*Context, error) {
	c := NewContext()
	slots := []struct {
		kind Kind
		name string
	}{
		{KindError, cfg.Error},
		{KindFailure, cfg.Failure},
		{KindIncomplete, cfg.Incomplete},
		{KindSkip, cfg.Skip},
	}
	for _, slot := range slots {
		name := slot.name
		if name == "" {
			if !cfg.Strict {
				continue
			}
			// Strict only changes tolerated outcomes; keep rethrow for errors.
			if _, swallow := c.defaults[slot.kind].(Swallow); !swallow {
				continue
			}
			name = StrategySwallow
		}
		s, err := ParseStrategy(name, cfg.Strict)
		if err != nil {
			return nil, fmt.Errorf("invalid %s strategy: %w", slot.kind, err)
		}
		c.Configure(slot.kind, s)
	}
	for typeName, name := range cfg.Associations {
		s, err := ParseStrategy(name, cfg.Strict)
		if err != nil {
			return nil, fmt.Errorf("invalid strategy for %s: %w", typeName, err)
		}
		c.Associate(typeName, s)
	}
	return c, nil
}

// Package engine composes operator actions: named registry, sequence,
// repeat and pause. Console input lines compile into these.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/juju/errors"
)

const ContextKey = "run/engine"

type Engine struct {
	lk      sync.Mutex
	actions map[string]Doer
}

// Context[key] -> *Engine or panic
func ContextValueEngine(ctx context.Context, key interface{}) *Engine {
	v := ctx.Value(key)
	if v == nil {
		panic(fmt.Errorf("context['%v'] is nil", key))
	}
	if e, ok := v.(*Engine); ok {
		return e
	}
	panic(fmt.Errorf("context['%v'] expected type *Engine", key))
}

func GetEngine(ctx context.Context) *Engine { return ContextValueEngine(ctx, ContextKey) }

func NewEngine() *Engine {
	self := &Engine{
		actions: make(map[string]Doer, 16),
	}
	return self
}

func (self *Engine) Register(action string, d Doer) {
	self.lk.Lock()
	self.actions[action] = d
	self.lk.Unlock()
}

// Resolve returns nil for unknown action.
func (self *Engine) Resolve(action string) Doer {
	self.lk.Lock()
	defer self.lk.Unlock()
	return self.actions[action]
}

func (self *Engine) MustResolve(action string) (Doer, error) {
	d := self.Resolve(action)
	if d == nil {
		return nil, errors.NotFoundf("action=%s", action)
	}
	return d, nil
}

// Actions lists registered names, sorted.
func (self *Engine) Actions() []string {
	self.lk.Lock()
	defer self.lk.Unlock()
	names := make([]string, 0, len(self.actions))
	for name := range self.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Exec resolves and runs action.
func (self *Engine) Exec(ctx context.Context, action string) error {
	d, err := self.MustResolve(action)
	if err != nil {
		return err
	}
	return errors.Annotate(d.Do(ctx), action)
}

// Package dispatch routes named strategy modules through a per-module
// circuit breaker.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rustyeddy/rolling5/market"
	"github.com/shopspring/decimal"
)

type ModuleID string

const (
	Scalpel   ModuleID = "scalpel"
	TrapX     ModuleID = "trapx"
	Defcon6   ModuleID = "defcon6"
	RawStrike ModuleID = "rawstrike"
)

// FallbackModule is where every unstable or failing dispatch is routed.
const FallbackModule = RawStrike

var (
	ErrUnknownModule = errors.New("dispatch: unknown module")
	ErrRestricted    = errors.New("dispatch: module restricted")
	ErrNoSignal      = errors.New("no signal to act on")
)

// Modules lists every known module id.
func Modules() []ModuleID {
	return []ModuleID{Scalpel, TrapX, Defcon6, RawStrike}
}

// ParseModule accepts "scalpel", "/scalpel" or "trade_module_scalpel".
func ParseModule(s string) (ModuleID, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "/")
	name = strings.TrimPrefix(name, "trade_module_")
	for _, m := range Modules() {
		if string(m) == name {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModule, s)
}

// Request is what a module is asked to act on.
type Request struct {
	Signal  *market.Signal  `json:"signal,omitempty"`
	Capital decimal.Decimal `json:"capital"`
}

type Result struct {
	Strategy string         `json:"strategy"`
	Status   string         `json:"status"`
	Notes    string         `json:"notes,omitempty"`
	Signal   *market.Signal `json:"signal,omitempty"`
}

type Module interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// ModuleFunc adapts a function to Module.
type ModuleFunc func(ctx context.Context, req Request) (Result, error)

func (f ModuleFunc) Evaluate(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Registry maps module ids to handlers. It is populated at startup and read
// only afterwards.
type Registry struct {
	mods map[ModuleID]Module
}

func NewRegistry() *Registry {
	return &Registry{mods: make(map[ModuleID]Module)}
}

func (r *Registry) Register(id ModuleID, m Module) *Registry {
	r.mods[id] = m
	return r
}

func (r *Registry) Lookup(id ModuleID) (Module, error) {
	m, ok := r.mods[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, id)
	}
	return m, nil
}

func (r *Registry) IDs() []ModuleID {
	ids := make([]ModuleID, 0, len(r.mods))
	for id := range r.mods {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DefaultRegistry wires the built-in modules. They confirm the signal they
// are handed; rawstrike acts with or without one.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, id := range []ModuleID{Scalpel, TrapX, Defcon6} {
		r.Register(id, signalModule(id))
	}
	r.Register(RawStrike, ModuleFunc(func(_ context.Context, req Request) (Result, error) {
		return Result{
			Strategy: string(RawStrike),
			Status:   "executed",
			Notes:    "raw entry",
			Signal:   req.Signal,
		}, nil
	}))
	return r
}

func signalModule(id ModuleID) Module {
	return ModuleFunc(func(ctx context.Context, req Request) (Result, error) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if req.Signal == nil {
			return Result{}, fmt.Errorf("%s: %w", id, ErrNoSignal)
		}
		return Result{
			Strategy: string(id),
			Status:   "executed",
			Notes:    req.Signal.String(),
			Signal:   req.Signal,
		}, nil
	})
}

// Package wallet tracks which address a client session is acting as. It
// mirrors the connect/refresh/disconnect flow of a browser wallet: accounts
// come from a provider, the first account is the active identity, and
// listeners hear about every identity change.
package wallet

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrNoWallet indicates no account is available or connected.
var ErrNoWallet = errors.New("wallet: no wallet connected")

// Provider enumerates the accounts a wallet exposes to this session.
type Provider interface {
	Accounts(ctx context.Context) ([]string, error)
}

// StaticProvider serves a fixed account list. Used for local runs and tests.
type StaticProvider []string

func (p StaticProvider) Accounts(ctx context.Context) ([]string, error) {
	return p, nil
}

// Event describes one identity change.
type Event struct {
	Address   string
	Connected bool
}

// Session is the mutable connection state for one client.
type Session struct {
	provider Provider

	mu      sync.RWMutex
	address string
	nextID  int
	subs    map[int]func(Event)
}

// NewSession builds a disconnected session backed by the provider.
func NewSession(provider Provider) *Session {
	return &Session{
		provider: provider,
		subs:     make(map[int]func(Event)),
	}
}

// Connect queries the provider and adopts its first account.
func (s *Session) Connect(ctx context.Context) (string, error) {
	accounts, err := s.provider.Accounts(ctx)
	if err != nil {
		return "", err
	}
	addr := firstAccount(accounts)
	if addr == "" {
		return "", ErrNoWallet
	}
	s.setAddress(addr)
	return addr, nil
}

// Refresh re-reads the provider. If the active account changed, listeners are
// notified; if the provider no longer has accounts the session disconnects.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	s.mu.RLock()
	connected := s.address != ""
	s.mu.RUnlock()
	if !connected {
		return "", ErrNoWallet
	}

	accounts, err := s.provider.Accounts(ctx)
	if err != nil {
		return "", err
	}
	addr := firstAccount(accounts)
	if addr == "" {
		s.Disconnect()
		return "", ErrNoWallet
	}
	s.setAddress(addr)
	return addr, nil
}

// Disconnect clears the active account and notifies listeners.
func (s *Session) Disconnect() {
	s.mu.Lock()
	changed := s.address != ""
	s.address = ""
	listeners := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		notify(listeners, Event{})
	}
}

// Address returns the active account.
func (s *Session) Address() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.address == "" {
		return "", ErrNoWallet
	}
	return s.address, nil
}

// Connected reports whether an account is active.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.address != ""
}

// OnChange registers a listener for identity changes. The returned function
// removes it.
func (s *Session) OnChange(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Session) setAddress(addr string) {
	s.mu.Lock()
	changed := s.address != addr
	s.address = addr
	listeners := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		notify(listeners, Event{Address: addr, Connected: true})
	}
}

func (s *Session) snapshotLocked() []func(Event) {
	out := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []func(Event), ev Event) {
	for _, fn := range listeners {
		fn(ev)
	}
}

func firstAccount(accounts []string) string {
	for _, a := range accounts {
		if addr := strings.TrimSpace(a); addr != "" {
			return addr
		}
	}
	return ""
}

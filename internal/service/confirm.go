package service

import (
	"context"
	"sync"

	"github.com/Rrens/secassist/internal/domain"
)

// PendingConfirmations is a Confirmer that parks a fix run until the
// presentation adapter resolves it by session id.
type PendingConfirmations struct {
	store SessionStore

	mu      sync.Mutex
	waiting map[string]*pendingConfirmation
}

type pendingConfirmation struct {
	proposal domain.FixProposal
	answer   chan bool
}

// NewPendingConfirmations creates an empty confirmation registry
func NewPendingConfirmations(store SessionStore) *PendingConfirmations {
	return &PendingConfirmations{
		store:   store,
		waiting: make(map[string]*pendingConfirmation),
	}
}

// Confirm blocks until Resolve is called for the proposal's session or ctx ends
func (p *PendingConfirmations) Confirm(ctx context.Context, proposal domain.FixProposal) (bool, error) {
	pc := &pendingConfirmation{proposal: proposal, answer: make(chan bool, 1)}

	p.mu.Lock()
	p.waiting[proposal.SessionID] = pc
	p.mu.Unlock()
	p.setAwaiting(proposal.SessionID, true)

	defer func() {
		p.mu.Lock()
		if p.waiting[proposal.SessionID] == pc {
			delete(p.waiting, proposal.SessionID)
		}
		p.mu.Unlock()
		p.setAwaiting(proposal.SessionID, false)
	}()

	select {
	case accept := <-pc.answer:
		return accept, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Resolve answers the confirmation waiting on sessionID
func (p *PendingConfirmations) Resolve(sessionID string, accept bool) error {
	p.mu.Lock()
	pc, ok := p.waiting[sessionID]
	if ok {
		delete(p.waiting, sessionID)
	}
	p.mu.Unlock()

	if !ok {
		return ErrNoConfirmation
	}
	pc.answer <- accept
	return nil
}

// Pending returns the proposal awaiting confirmation for sessionID
func (p *PendingConfirmations) Pending(sessionID string) (domain.FixProposal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pc, ok := p.waiting[sessionID]
	if !ok {
		return domain.FixProposal{}, false
	}
	return pc.proposal, true
}

func (p *PendingConfirmations) setAwaiting(sessionID string, awaiting bool) {
	if p.store != nil {
		p.store.UpdateSessionMetadata(sessionID, map[string]any{"awaitingConfirmation": awaiting})
	}
}

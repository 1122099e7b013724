package realtime

import (
	"github.com/gosuda/boardsync/internal/domain"
)

// Presence wraps a Manager with typing and presence signalling. It shares
// the manager's connection and room scoping; nothing here is queued.
type Presence struct {
	m *Manager
}

func NewPresence(m *Manager) *Presence {
	return &Presence{m: m}
}

// Enter joins a channel room so typing events for it are delivered.
func (p *Presence) Enter(channel string) {
	p.m.JoinChannel(channel)
}

// Leave drops a channel room.
func (p *Presence) Leave(channel string) {
	p.m.LeaveChannel(channel)
}

func (p *Presence) StartTyping(channel string) bool {
	return p.m.Emit(domain.TypingEvent{OrgID: p.m.OrgID(), Channel: channel})
}

func (p *Presence) StopTyping(channel string) bool {
	return p.m.Emit(domain.TypingEvent{OrgID: p.m.OrgID(), Channel: channel, Stopped: true})
}

// Update announces this user's status to the organization.
func (p *Presence) Update(status domain.PresenceStatus) bool {
	return p.m.Emit(domain.PresenceEvent{OrgID: p.m.OrgID(), Status: status})
}

// OnTyping registers fn for both typing:start and typing:stop.
func (p *Presence) OnTyping(fn func(domain.TypingEvent)) func() {
	handler := func(ev domain.Event) {
		if typing, ok := ev.(domain.TypingEvent); ok {
			fn(typing)
		}
	}
	stopStart := p.m.On(domain.EventTypingStart, handler)
	stopStop := p.m.On(domain.EventTypingStop, handler)
	return func() {
		stopStart()
		stopStop()
	}
}

func (p *Presence) OnPresence(fn func(domain.PresenceEvent)) func() {
	return p.m.On(domain.EventPresenceUpdate, func(ev domain.Event) {
		if presence, ok := ev.(domain.PresenceEvent); ok {
			fn(presence)
		}
	})
}

// OnMove registers a typed card:moved handler on m.
func OnMove(m *Manager, fn func(domain.MoveEvent)) func() {
	return m.On(domain.EventCardMoved, func(ev domain.Event) {
		if move, ok := ev.(domain.MoveEvent); ok {
			fn(move)
		}
	})
}

package realtime

import (
	"slices"

	"github.com/gosuda/boardsync/internal/domain"
)

// roomSet is the ordered membership the manager replays after every
// (re)connect. The organization room is implicit and never stored here.
type roomSet struct {
	rooms []domain.Room
}

// add reports whether the room was not already a member.
func (r *roomSet) add(room domain.Room) bool {
	if slices.Contains(r.rooms, room) {
		return false
	}
	r.rooms = append(r.rooms, room)
	return true
}

// remove reports whether the room was a member.
func (r *roomSet) remove(room domain.Room) bool {
	i := slices.Index(r.rooms, room)
	if i < 0 {
		return false
	}
	r.rooms = slices.Delete(r.rooms, i, i+1)
	return true
}

func (r *roomSet) list() []domain.Room {
	return slices.Clone(r.rooms)
}

func (r *roomSet) clear() {
	r.rooms = nil
}

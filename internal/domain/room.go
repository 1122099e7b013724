package domain

import "github.com/google/uuid"

// Room is the scope that gates event delivery: an organization, optionally
// narrowed to a project or to a named channel.
type Room struct {
	OrgID     uuid.UUID
	ProjectID uuid.UUID
	Channel   string
}

func OrgRoom(orgID uuid.UUID) Room {
	return Room{OrgID: orgID}
}

func ProjectRoom(orgID, projectID uuid.UUID) Room {
	return Room{OrgID: orgID, ProjectID: projectID}
}

func ChannelRoom(orgID uuid.UUID, channel string) Room {
	return Room{OrgID: orgID, Channel: channel}
}

// IsOrg reports whether the room is organization-wide.
func (r Room) IsOrg() bool {
	return r.ProjectID == uuid.Nil && r.Channel == ""
}

// JoinEvent returns the event that subscribes a connection to the room.
func (r Room) JoinEvent() Event {
	switch {
	case r.Channel != "":
		return JoinChannel{OrgID: r.OrgID, Channel: r.Channel}
	case r.ProjectID != uuid.Nil:
		return JoinProject{OrgID: r.OrgID, ProjectID: r.ProjectID}
	default:
		return JoinOrg{OrgID: r.OrgID}
	}
}

// LeaveEvent returns the event that unsubscribes a connection from the room.
// Organization rooms are only left by disconnecting, so ok is false for them.
func (r Room) LeaveEvent() (Event, bool) {
	switch {
	case r.Channel != "":
		return LeaveChannel{OrgID: r.OrgID, Channel: r.Channel}, true
	case r.ProjectID != uuid.Nil:
		return LeaveProject{OrgID: r.OrgID, ProjectID: r.ProjectID}, true
	default:
		return nil, false
	}
}

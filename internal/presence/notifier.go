package presence

import (
	"context"

	"github.com/google/uuid"
)

// Notifier собирает локальную и межинстансную доставку в одну точку,
// которую дергает менеджер членства после коммита.
type Notifier struct {
	Local  *Broadcaster
	Bridge *Bridge
}

func (n *Notifier) RoomChanged(roomID string, members []uuid.UUID, version int64) {
	update := Update{RoomID: roomID, Members: members, Count: len(members), Version: version}
	n.Local.RoomChanged(roomID, members, version)
	if n.Bridge != nil {
		go n.Bridge.Publish(context.Background(), update)
	}
}

package collab

import (
	"sort"
	"sync"
	"time"
)

// Presence tracks who is in each vault room. A user with several open
// connections appears once; join and leave events fire only on the first
// connection and after the last one has been gone past the grace period.
type Presence struct {
	mu      sync.Mutex
	sched   Scheduler
	grace   time.Duration
	roomset *RoomSet
	rooms   map[string]*presenceRoom
}

type presenceRoom struct {
	counts  map[string]int
	members map[string]UserPayload
	// one entry per connection currently inside its disconnect grace window
	pending map[string][]*pendingLeave
}

type pendingLeave struct {
	cancel CancelFunc
}

// NewPresence builds a presence tracker over the shared room registry. The
// registry, not a captured *Room, is where delayed leave events broadcast:
// rooms are deleted when emptied and recreated on the next join, so a *Room
// held across the grace window can go stale.
func NewPresence(sched Scheduler, grace time.Duration, rooms *RoomSet) *Presence {
	return &Presence{
		sched:   sched,
		grace:   grace,
		roomset: rooms,
		rooms:   make(map[string]*presenceRoom),
	}
}

// Join registers a new connection for user in room. On the user's first
// connection the room learns about them: a joined event goes to everyone
// else and the joining connection receives the full presence list. A join
// that lands inside a pending grace window consumes that window instead of
// incrementing, so a quick reconnect is invisible to the room.
func (p *Presence) Join(room *Room, joining *Client) {
	user := joining.Cap.User()

	p.mu.Lock()
	pr := p.rooms[room.Name()]
	if pr == nil {
		pr = &presenceRoom{
			counts:  make(map[string]int),
			members: make(map[string]UserPayload),
			pending: make(map[string][]*pendingLeave),
		}
		p.rooms[room.Name()] = pr
	}

	if waiting := pr.pending[user.ID]; len(waiting) > 0 {
		pl := waiting[len(waiting)-1]
		pr.pending[user.ID] = waiting[:len(waiting)-1]
		if len(pr.pending[user.ID]) == 0 {
			delete(pr.pending, user.ID)
		}
		p.mu.Unlock()
		pl.cancel()
		return
	}

	pr.counts[user.ID]++
	first := pr.counts[user.ID] == 1
	if first {
		pr.members[user.ID] = user
	}
	list := pr.memberList()
	p.mu.Unlock()

	if first {
		room.Broadcast(mustFrame(EventUserJoined, PresencePayload{User: user}), joining)
		joining.Send(mustFrame(EventUserList, UserListPayload{Users: list}))
	}
}

// Leave schedules the departing connection's decrement after the grace
// period. If the decrement takes the user's count to zero they are removed
// from the room and a left event is broadcast; an empty room is dropped
// entirely.
func (p *Presence) Leave(room *Room, leaving *Client) {
	user := leaving.Cap.User()

	p.mu.Lock()
	pr := p.rooms[room.Name()]
	if pr == nil || pr.counts[user.ID] == 0 {
		p.mu.Unlock()
		return
	}

	pl := &pendingLeave{}
	name := room.Name()
	pl.cancel = p.sched.After(p.grace, func() { p.finishLeave(name, user, pl) })
	pr.pending[user.ID] = append(pr.pending[user.ID], pl)
	p.mu.Unlock()
}

func (p *Presence) finishLeave(roomName string, user UserPayload, pl *pendingLeave) {
	p.mu.Lock()
	pr := p.rooms[roomName]
	if pr == nil {
		p.mu.Unlock()
		return
	}

	// A reconnect may have consumed this window while the timer was firing.
	waiting := pr.pending[user.ID]
	found := false
	for i, candidate := range waiting {
		if candidate == pl {
			pr.pending[user.ID] = append(waiting[:i], waiting[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		p.mu.Unlock()
		return
	}
	if len(pr.pending[user.ID]) == 0 {
		delete(pr.pending, user.ID)
	}

	pr.counts[user.ID]--
	gone := pr.counts[user.ID] <= 0
	if gone {
		delete(pr.counts, user.ID)
		delete(pr.members, user.ID)
		if len(pr.counts) == 0 {
			delete(p.rooms, roomName)
		}
	}
	p.mu.Unlock()

	if gone {
		// Resolve the room at fire time. Anyone who joined a recreated room
		// during the grace window still sees the departed user in the list and
		// needs this left event.
		if cur, ok := p.roomset.Get(roomName); ok {
			cur.Broadcast(mustFrame(EventUserLeft, PresencePayload{User: user}), nil)
		}
	}
}

// Members returns the distinct users present in the named room, ordered by
// id for stable payloads.
func (p *Presence) Members(roomName string) []UserPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr := p.rooms[roomName]
	if pr == nil {
		return nil
	}
	return pr.memberList()
}

// RoomCount reports how many rooms currently hold presence state.
func (p *Presence) RoomCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rooms)
}

func (pr *presenceRoom) memberList() []UserPayload {
	out := make([]UserPayload, 0, len(pr.members))
	for _, u := range pr.members {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

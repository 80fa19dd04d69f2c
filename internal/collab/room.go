package collab

import "sync"

// Room fans messages out to its subscribed clients. One Room per presence
// room (vault:<id>) and one per open document (file-<id>).
type Room struct {
	name string

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func NewRoom(name string) *Room {
	return &Room{name: name, clients: make(map[*Client]struct{})}
}

func (r *Room) Name() string { return r.name }

func (r *Room) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c] = struct{}{}
}

// Remove drops c and returns the number of remaining subscribers.
func (r *Room) Remove(c *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, c)
	return len(r.clients)
}

func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast sends msg to every subscriber except the excluded one. Clients
// whose buffers are full are skipped; their pumps will tear them down.
func (r *Room) Broadcast(msg []byte, except *Client) {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		if c != except {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		c.Send(msg)
	}
}

// RoomSet is the registry of presence rooms, keyed by room name.
type RoomSet struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRoomSet() *RoomSet {
	return &RoomSet{rooms: make(map[string]*Room)}
}

func (s *RoomSet) GetOrCreate(name string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[name]; ok {
		return r
	}
	r := NewRoom(name)
	s.rooms[name] = r
	return r
}

// Get returns the current room instance for name, if one exists. Holders of
// a stale *Room must resolve through here before broadcasting, because an
// emptied room is deleted and a later join creates a fresh instance.
func (s *RoomSet) Get(name string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[name]
	return r, ok
}

// RemoveClient detaches c from the named room and deletes the room once
// empty, so the registry never leaks entries for rooms nobody is in.
func (s *RoomSet) RemoveClient(name string, c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[name]
	if !ok {
		return
	}
	if r.Remove(c) == 0 {
		delete(s.rooms, name)
	}
}

func (s *RoomSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

package session

import (
	"sort"
	"sync"

	"github.com/mori-project/mori/internal/events"
	"github.com/mori-project/mori/internal/protocol"
)

// Player is another player in the current world.
type Player struct {
	NetID     uint32  `json:"net_id"`
	UserID    uint32  `json:"user_id"`
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	X         float32 `json:"x"`
	Y         float32 `json:"y"`
	Invisible bool    `json:"invisible"`
	ModState  uint32  `json:"mod_state"`

	SpawnType string `json:"spawn_type,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	OnlineID  string `json:"online_id,omitempty"`
	EID       string `json:"-"`
	IP        string `json:"-"`
	ColRect   string `json:"col_rect,omitempty"`
	TitleIcon string `json:"title_icon,omitempty"`
}

// IsMod reports whether the player is flagged as a moderator.
func (p Player) IsMod() bool { return p.ModState == 1 }

// Payload converts the player for the event bus.
func (p Player) Payload() events.PlayerPayload {
	return events.PlayerPayload{
		NetID:     p.NetID,
		UserID:    p.UserID,
		Name:      p.Name,
		Country:   p.Country,
		Invisible: p.Invisible,
		Mod:       p.IsMod(),
	}
}

// playerFromBlock builds a Player from an OnSpawn text block.
func playerFromBlock(b protocol.TextBlock) (Player, error) {
	var p Player
	var err error

	if p.NetID, err = b.Uint32("netID"); err != nil {
		return p, err
	}
	if p.UserID, err = b.Uint32("userID"); err != nil {
		return p, err
	}
	if p.ModState, err = b.Uint32("mstate"); err != nil {
		return p, err
	}
	invis, err := b.Uint32Or("invis", 0)
	if err != nil {
		return p, err
	}
	p.Invisible = invis != 0

	required := []struct {
		key string
		dst *string
	}{
		{"eid", &p.EID},
		{"ip", &p.IP},
		{"colrect", &p.ColRect},
		{"name", &p.Name},
		{"country", &p.Country},
	}
	for _, f := range required {
		if *f.dst, err = b.Require(f.key); err != nil {
			return p, err
		}
	}

	p.SpawnType = b.String("spawn", "")
	p.Avatar = b.String("avatar", "")
	p.OnlineID = b.String("onlineID", "")
	p.TitleIcon = b.String("titleIcon", "")

	if p.X, p.Y, err = b.Vec2("posXY"); err != nil {
		return p, err
	}
	return p, nil
}

// Players is the registry of other players keyed by net id.
type Players struct {
	mu sync.RWMutex
	m  map[uint32]Player
}

func newPlayers() *Players {
	return &Players{m: make(map[uint32]Player)}
}

// Get returns one player.
func (r *Players) Get(netID uint32) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.m[netID]
	return p, ok
}

// List returns all players ordered by net id.
func (r *Players) List() []Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted()
}

// TryPlayers is List without waiting on a held lock.
func (r *Players) TryPlayers() ([]Player, error) {
	if !r.mu.TryRLock() {
		return nil, ErrUnavailable
	}
	defer r.mu.RUnlock()
	return r.sorted(), nil
}

// Len returns the number of players.
func (r *Players) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

func (r *Players) sorted() []Player {
	out := make([]Player, 0, len(r.m))
	for _, p := range r.m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NetID < out[j].NetID })
	return out
}

func (r *Players) put(p Player) {
	r.mu.Lock()
	r.m[p.NetID] = p
	r.mu.Unlock()
}

func (r *Players) remove(netID uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.m[netID]
	delete(r.m, netID)
	return ok
}

func (r *Players) move(netID uint32, x, y float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.m[netID]; ok {
		p.X, p.Y = x, y
		r.m[netID] = p
	}
}

func (r *Players) clear() {
	r.mu.Lock()
	r.m = make(map[uint32]Player)
	r.mu.Unlock()
}

// Package roster keeps the local view of a room: remote peers, chat, timer
// and the waiting-room lobby. The local user is never part of the peer list.
package roster

import (
	"slices"
	"sync"

	"github.com/dkeye/costudy/internal/domain"
	"github.com/rs/zerolog/log"
)

type Roster struct {
	mu      sync.RWMutex
	localID domain.UserID
	order   []domain.UserID
	peers   map[domain.UserID]domain.Peer
	chat    []domain.ChatMessage
	timer   domain.Timer
	waiting domain.WaitingRoom
}

func New(localID domain.UserID) *Roster {
	return &Roster{
		localID: localID,
		peers:   make(map[domain.UserID]domain.Peer),
		timer:   domain.Timer{State: domain.TimerStopped, Property: domain.DefaultTimerProperty()},
	}
}

// ApplyInitialRoster replaces the peer list with the join-success payload.
func (r *Roster) ApplyInitialRoster(peers []domain.Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = r.order[:0]
	clear(r.peers)
	for _, p := range peers {
		if p.ID == r.localID {
			continue
		}
		if _, dup := r.peers[p.ID]; !dup {
			r.order = append(r.order, p.ID)
		}
		p.IsLocal = false
		r.peers[p.ID] = p
	}
	log.Info().Str("module", "roster").Int("peers", len(r.peers)).Msg("initial roster applied")
}

// AddPeer inserts p, or refreshes identity and flags when it is already known.
// Tracks of a known peer are kept.
func (r *Roster) AddPeer(p domain.Peer) bool {
	if p.ID == r.localID {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.peers[p.ID]; ok {
		p.Audio, p.Video = cur.Audio, cur.Video
	} else {
		r.order = append(r.order, p.ID)
	}
	p.IsLocal = false
	r.peers[p.ID] = p
	return true
}

// MergePeerState writes only the fields present in u. An unknown id is an
// implicit join with defaults for the absent fields.
func (r *Roster) MergePeerState(u domain.PeerUpdate) (domain.Peer, bool) {
	if u.ID == r.localID || u.ID == "" {
		return domain.Peer{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.peers[u.ID]
	if !ok {
		cur = domain.Peer{ID: u.ID}
		r.order = append(r.order, u.ID)
	}
	next := cur.Apply(u)
	r.peers[u.ID] = next
	return next, true
}

func (r *Roster) RemovePeer(id domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	r.order = slices.DeleteFunc(r.order, func(x domain.UserID) bool { return x == id })
	return true
}

// AttachTrack sets the audio or video slot of the owner of t. A missing peer
// is logged and ignored; it happens when a consumer lands after the peer left.
func (r *Roster) AttachTrack(id domain.UserID, t domain.TrackRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		log.Warn().Str("module", "roster").Str("user", string(id)).Str("track", t.ID).Msg("attach track: peer not found")
		return false
	}
	r.peers[id] = p.WithTrack(t)
	return true
}

func (r *Roster) DetachTrack(id domain.UserID, kind domain.MediaKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return false
	}
	r.peers[id] = p.WithoutTrack(kind)
	return true
}

// DetachAudio clears every audio slot. Used when the headset is muted.
func (r *Roster) DetachAudio() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.peers {
		r.peers[id] = p.WithoutTrack(domain.KindAudio)
	}
}

func (r *Roster) Peer(id domain.UserID) (domain.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// Peers returns the remote peers in join order.
func (r *Roster) Peers() []domain.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Peer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.peers[id])
	}
	return out
}

func (r *Roster) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// AppendChat keeps the log newest first.
func (r *Roster) AppendChat(m domain.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat = slices.Insert(r.chat, 0, m)
}

func (r *Roster) SetChat(msgs []domain.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat = slices.Clone(msgs)
}

func (r *Roster) Chat() []domain.ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.chat)
}

func (r *Roster) SetTimer(t domain.Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timer = t
}

func (r *Roster) SetTimerState(s domain.TimerState) domain.Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timer.State = s
	return r.timer
}

func (r *Roster) Timer() domain.Timer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.timer
}

func (r *Roster) SetWaitingRoom(w domain.WaitingRoom) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waiting = w.Clone()
}

func (r *Roster) WaitingRoom() domain.WaitingRoom {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting.Clone()
}

func (r *Roster) AddJoiner(u domain.UserInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waiting.HasJoiner(u.ID) {
		return
	}
	r.waiting.Joiners = append(r.waiting.Joiners, u)
}

func (r *Roster) RemoveJoiner(id domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waiting.Joiners = slices.DeleteFunc(r.waiting.Joiners, func(u domain.UserInfo) bool { return u.ID == id })
}

func (r *Roster) AddBlacklist(u domain.UserInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waiting.IsBlacklisted(u.ID) {
		return
	}
	r.waiting.Blacklist = append(r.waiting.Blacklist, u)
}

func (r *Roster) RemoveBlacklist(id domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waiting.Blacklist = slices.DeleteFunc(r.waiting.Blacklist, func(u domain.UserInfo) bool { return u.ID == id })
}

// Reset forgets peers and chat. Waiting-room data survives so a failed
// attendance can still show who was there.
func (r *Roster) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	clear(r.peers)
	r.chat = nil
	r.timer = domain.Timer{State: domain.TimerStopped, Property: r.timer.Property}
}

package domain

import "slices"

type RoomID string

// WaitingRoom is the lobby snapshot returned by join-waiting-room.
type WaitingRoom struct {
	Joiners     []UserInfo `json:"joiners"`
	MasterID    UserID     `json:"masterId"`
	Capacity    int        `json:"capacity"`
	HasPassword bool       `json:"hasPassword"`
	Blacklist   []UserInfo `json:"blacklist"`
}

func (w WaitingRoom) HasJoiner(id UserID) bool {
	return slices.ContainsFunc(w.Joiners, func(u UserInfo) bool { return u.ID == id })
}

func (w WaitingRoom) IsBlacklisted(id UserID) bool {
	return slices.ContainsFunc(w.Blacklist, func(u UserInfo) bool { return u.ID == id })
}

func (w WaitingRoom) IsFull() bool {
	return w.Capacity > 0 && len(w.Joiners) >= w.Capacity
}

// Clone returns a copy whose slices can be mutated independently.
func (w WaitingRoom) Clone() WaitingRoom {
	w.Joiners = slices.Clone(w.Joiners)
	w.Blacklist = slices.Clone(w.Blacklist)
	return w
}

package domain

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool { return k == KindAudio || k == KindVideo }

// TrackRef is an opaque handle to a playable remote track.
type TrackRef struct {
	ID     string    `json:"id"`
	Kind   MediaKind `json:"kind"`
	PeerID UserID    `json:"peerId"`
}

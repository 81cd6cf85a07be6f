package domain

// Peer represents one participant of a study room.
// No transport or lifecycle logic here.
type Peer struct {
	ID                UserID    `json:"id"`
	Name              string    `json:"name"`
	EnabledMicrophone bool      `json:"enabledMicrophone"`
	EnabledHeadset    bool      `json:"enabledHeadset"`
	Video             *TrackRef `json:"video,omitempty"`
	Audio             *TrackRef `json:"audio,omitempty"`
	IsLocal           bool      `json:"isLocal"`
}

// PeerUpdate is a partial peer state. Nil fields are absent and must not
// overwrite the current value.
type PeerUpdate struct {
	ID                UserID  `json:"userId"`
	Name              *string `json:"userName,omitempty"`
	EnabledMicrophone *bool   `json:"enabledMicrophone,omitempty"`
	EnabledHeadset    *bool   `json:"enabledHeadset,omitempty"`
}

// Apply returns p with every present field of u written over it.
func (p Peer) Apply(u PeerUpdate) Peer {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.EnabledMicrophone != nil {
		p.EnabledMicrophone = *u.EnabledMicrophone
	}
	if u.EnabledHeadset != nil {
		p.EnabledHeadset = *u.EnabledHeadset
	}
	return p
}

// WithTrack sets the audio or video slot according to the track kind.
func (p Peer) WithTrack(t TrackRef) Peer {
	switch t.Kind {
	case KindAudio:
		p.Audio = &t
	case KindVideo:
		p.Video = &t
	}
	return p
}

func (p Peer) WithoutTrack(kind MediaKind) Peer {
	switch kind {
	case KindAudio:
		p.Audio = nil
	case KindVideo:
		p.Video = nil
	}
	return p
}

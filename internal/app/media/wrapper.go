package media

import (
	"github.com/dkeye/costudy/internal/core"
	"github.com/dkeye/costudy/internal/domain"
)

// Wrapper binds one remote producer to the receive transport of its owner.
// consumer is nil for audio recorded while the headset was muted.
type Wrapper struct {
	UserID      domain.UserID
	TransportID string
	ProducerID  string
	Kind        domain.MediaKind

	consumer core.Consumer
}

func (w Wrapper) Consumer() core.Consumer { return w.consumer }

// Live reports whether media is actually being consumed.
func (w Wrapper) Live() bool { return w.consumer != nil }

func (w Wrapper) Track() (domain.TrackRef, bool) {
	if w.consumer == nil {
		return domain.TrackRef{}, false
	}
	return w.consumer.Track(), true
}

func (w Wrapper) close() {
	if w.consumer != nil {
		w.consumer.Close()
	}
}

// recvEntry is the receive transport of one remote user.
type recvEntry struct {
	transport core.RecvTransport
	producers map[string]struct{}
}

func closeRecv(t core.RecvTransport) {
	t.Close()
	t.Dispose()
}

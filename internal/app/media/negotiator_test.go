package media

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/costudy/internal/core"
	"github.com/dkeye/costudy/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNegotiator(muted bool) (*Negotiator, *fakeSignaler, *fakeDevice) {
	sig := newFakeSignaler()
	dev := &fakeDevice{}
	return NewNegotiator(sig, dev, "me", muted), sig, dev
}

func consume(t *testing.T, n *Negotiator, user domain.UserID, producer string) Wrapper {
	t.Helper()
	w, err := n.ConsumeRemoteProducer(context.Background(), user, producer)
	require.NoError(t, err)
	return w
}

func TestConsumeReusesTransportPerUser(t *testing.T) {
	n, sig, dev := newTestNegotiator(false)

	w1 := consume(t, n, "u1", "a1")
	w2 := consume(t, n, "u1", "v1")

	assert.Equal(t, 1, dev.recvCount())
	assert.Equal(t, 1, sig.count(core.MsgCreateTransport))
	assert.Equal(t, 2, sig.count(core.MsgConsume))
	assert.Equal(t, []string{"a1", "v1"}, dev.recv[0].consumed())
	assert.Equal(t, w1.TransportID, w2.TransportID)
	for _, req := range sig.requests(core.MsgConsume) {
		assert.Equal(t, w1.TransportID, req.(core.ConsumeRequest).TransportID)
	}

	track, ok := w2.Track()
	require.True(t, ok)
	assert.Equal(t, domain.TrackRef{ID: "c-v1", Kind: domain.KindVideo, PeerID: "u1"}, track)
}

func TestConcurrentConsumeCreatesOneTransport(t *testing.T) {
	n, sig, dev := newTestNegotiator(false)

	var wg sync.WaitGroup
	for _, p := range []string{"a1", "v1", "a2", "v2"} {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_, err := n.ConsumeRemoteProducer(context.Background(), "u1", p)
			assert.NoError(t, err)
		}(p)
	}
	wg.Wait()

	assert.Equal(t, 1, dev.recvCount())
	assert.Equal(t, 1, sig.count(core.MsgCreateTransport))
	assert.Len(t, n.Wrappers(), 4)
}

func TestConsumeSendsResume(t *testing.T) {
	n, sig, _ := newTestNegotiator(false)
	consume(t, n, "u1", "v1")
	assert.Equal(t, []string{core.MsgConsumeResume}, sig.emitted())
}

func TestMuteClosesAudioBeforeNotifying(t *testing.T) {
	n, sig, dev := newTestNegotiator(false)
	consume(t, n, "u1", "a1")
	consume(t, n, "u1", "v1")
	consume(t, n, "u2", "a2")
	require.Len(t, n.AudioWrappers(), 2)

	audioAtEmit := -1
	sig.onEmit = func(name string) {
		if name == core.MsgMuteHeadset {
			audioAtEmit = len(n.AudioWrappers())
		}
	}
	require.NoError(t, n.MuteHeadset())

	assert.Zero(t, audioAtEmit, "audio wrappers must be gone before mute-headset is sent")
	assert.True(t, n.Muted())
	for _, tr := range dev.recv {
		for _, c := range tr.consumers {
			if c.kind == domain.KindAudio {
				assert.True(t, c.isClosed(), "consumer %s", c.id)
			}
		}
	}
	assert.False(t, dev.recv[0].isClosed(), "u1 keeps its transport for video")
	assert.True(t, dev.recv[1].isClosed(), "u2 had audio only")
	assert.Equal(t, 1, n.RecvTransportCount())
}

func TestUnmuteRecreatesOnlyMissingAudio(t *testing.T) {
	n, sig, dev := newTestNegotiator(false)
	consume(t, n, "u1", "a1")
	consume(t, n, "u1", "v1")
	consume(t, n, "u2", "a2")
	require.NoError(t, n.MuteHeadset())

	sig.handle(core.MsgGetProducerIDs, func(any) (any, error) {
		return []core.RemoteProducer{
			{ProducerID: "a1", UserID: "u1", Kind: domain.KindAudio},
			{ProducerID: "a2", UserID: "u2", Kind: domain.KindAudio},
			{ProducerID: "v1", UserID: "u1", Kind: domain.KindVideo},
			{ProducerID: "a0", UserID: "me", Kind: domain.KindAudio},
		}, nil
	})
	added, err := n.UnmuteHeadset(context.Background())
	require.NoError(t, err)

	require.Len(t, added, 2)
	assert.Equal(t, "a1", added[0].ProducerID)
	assert.Equal(t, "a2", added[1].ProducerID)
	assert.Equal(t, 3, dev.recvCount(), "only u2 needs a new transport")
	assert.Equal(t, []string{"a1", "v1", "a1"}, dev.recv[0].consumed())
	assert.Equal(t, []string{"a2"}, dev.recv[2].consumed())
	assert.Len(t, n.AudioWrappers(), 2)
	assert.False(t, n.Muted())

	emits := sig.emitted()
	assert.Contains(t, emits, core.MsgUnmuteHeadset)
}

func TestConsumeAudioWhileMutedKeepsBookkeeping(t *testing.T) {
	n, sig, dev := newTestNegotiator(true)

	w := consume(t, n, "u1", "a1")
	assert.False(t, w.Live())
	assert.Empty(t, dev.recv[0].consumed())
	assert.Len(t, n.AudioWrappers(), 1)
	assert.NotContains(t, sig.emitted(), core.MsgConsumeResume)

	sig.handle(core.MsgGetProducerIDs, func(any) (any, error) {
		return []core.RemoteProducer{{ProducerID: "a1", UserID: "u1", Kind: domain.KindAudio}}, nil
	})
	added, err := n.UnmuteHeadset(context.Background())
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.True(t, added[0].Live())
	assert.Equal(t, 1, dev.recvCount())
}

func TestUnmuteStopsAfterTeardown(t *testing.T) {
	n, sig, _ := newTestNegotiator(true)
	sig.handle(core.MsgGetProducerIDs, func(any) (any, error) {
		n.Teardown()
		return []core.RemoteProducer{{ProducerID: "a1", UserID: "u1", Kind: domain.KindAudio}}, nil
	})

	_, err := n.UnmuteHeadset(context.Background())
	assert.ErrorIs(t, err, ErrTornDown)
	assert.Zero(t, sig.count(core.MsgConsume))
}

func TestLateConsumerAfterTeardownIsDropped(t *testing.T) {
	n, sig, dev := newTestNegotiator(false)
	base := sig.handlers[core.MsgConsume]
	sig.handle(core.MsgConsume, func(p any) (any, error) {
		n.Teardown()
		return base(p)
	})

	_, err := n.ConsumeRemoteProducer(context.Background(), "u1", "v1")
	require.ErrorIs(t, err, ErrTornDown)
	require.Len(t, dev.recv[0].consumers, 1)
	assert.True(t, dev.recv[0].consumers[0].isClosed())
	assert.Empty(t, n.Wrappers())
	assert.True(t, dev.recv[0].isClosed())
}

func TestCloseRemoteProducerReleasesIdleTransport(t *testing.T) {
	n, _, dev := newTestNegotiator(false)
	consume(t, n, "u1", "a1")
	consume(t, n, "u1", "v1")

	w, ok := n.CloseRemoteProducer("a1")
	require.True(t, ok)
	assert.Equal(t, domain.KindAudio, w.Kind)
	assert.False(t, dev.recv[0].isClosed())

	_, ok = n.CloseRemoteProducer("v1")
	require.True(t, ok)
	assert.True(t, dev.recv[0].isClosed())
	assert.Equal(t, []string{"close t1", "dispose t1"}, dev.history())

	_, ok = n.CloseRemoteProducer("unknown")
	assert.False(t, ok)
}

func TestClosePeer(t *testing.T) {
	n, _, dev := newTestNegotiator(false)
	consume(t, n, "u1", "a1")
	consume(t, n, "u1", "v1")
	consume(t, n, "u2", "a2")

	n.ClosePeer("u1")
	assert.True(t, dev.recv[0].isClosed())
	assert.False(t, dev.recv[1].isClosed())
	assert.Len(t, n.Wrappers(), 1)
	n.ClosePeer("nobody")
}

func TestSendTransportAndProducers(t *testing.T) {
	n, sig, _ := newTestNegotiator(false)
	ctx := context.Background()

	require.NoError(t, n.CreateSendTransport(ctx, fakeTrack{id: "cam", kind: domain.KindVideo}, nil))
	assert.True(t, n.HasProducer(domain.KindVideo))
	assert.False(t, n.HasProducer(domain.KindAudio))
	assert.ErrorIs(t, n.CreateSendTransport(ctx, nil, nil), ErrSendTransportExists)

	create := sig.requests(core.MsgCreateTransport)
	require.Len(t, create, 1)
	assert.False(t, create[0].(core.CreateTransportRequest).Consumer)

	mic := fakeTrack{id: "mic", kind: domain.KindAudio}
	require.NoError(t, n.Produce(ctx, mic))
	assert.ErrorIs(t, n.Produce(ctx, mic), ErrProducerExists)

	require.NoError(t, n.CloseProducer(domain.KindVideo))
	assert.ErrorIs(t, n.CloseProducer(domain.KindVideo), ErrNoProducer)
	assert.Contains(t, sig.emitted(), core.MsgCloseVideoProducer)
}

func TestProduceWithoutSendTransport(t *testing.T) {
	n, _, _ := newTestNegotiator(false)
	err := n.Produce(context.Background(), fakeTrack{id: "mic", kind: domain.KindAudio})
	assert.ErrorIs(t, err, ErrNoSendTransport)
}

func TestTeardownClosesBeforeDispose(t *testing.T) {
	n, _, dev := newTestNegotiator(false)
	ctx := context.Background()
	require.NoError(t, n.CreateSendTransport(ctx, nil, fakeTrack{id: "mic", kind: domain.KindAudio}))
	consume(t, n, "u1", "a1")

	n.Teardown()
	n.Teardown()

	assert.Equal(t, []string{"close t1", "dispose t1", "close t2", "dispose t2"}, dev.history())
	assert.True(t, dev.recv[0].consumers[0].isClosed())
	assert.False(t, n.Alive())
	assert.Empty(t, n.Wrappers())

	_, err := n.ConsumeRemoteProducer(ctx, "u1", "a2")
	assert.ErrorIs(t, err, ErrTornDown)
	assert.ErrorIs(t, n.MuteHeadset(), ErrTornDown)
}

func TestLoadDeviceReplacesCapabilities(t *testing.T) {
	dev := &fakeDevice{}
	first := NewNegotiator(newFakeSignaler(), dev, "me", false)
	require.NoError(t, first.LoadDevice([]byte(`{"codecs":["opus"]}`)))
	assert.True(t, dev.Loaded())
	first.Teardown()

	sig := newFakeSignaler()
	second := NewNegotiator(sig, dev, "me", false)
	require.NoError(t, second.LoadDevice([]byte(`{"codecs":["vp8"]}`)))
	assert.Equal(t, 2, dev.loads)

	consume(t, second, "u1", "v1")
	req := sig.requests(core.MsgConsume)[0].(core.ConsumeRequest)
	assert.JSONEq(t, `{"codecs":["vp8"]}`, string(req.RTPCapabilities))
}

func TestConcurrentConsumeOfOneProducerSendsOneRequest(t *testing.T) {
	n, sig, dev := newTestNegotiator(false)
	base := sig.handlers[core.MsgConsume]
	release := make(chan struct{})
	sig.handle(core.MsgConsume, func(p any) (any, error) {
		<-release
		return base(p)
	})

	first := make(chan error, 1)
	go func() {
		_, err := n.ConsumeRemoteProducer(context.Background(), "u1", "v1")
		first <- err
	}()
	require.Eventually(t, func() bool { return sig.count(core.MsgConsume) == 1 }, time.Second, 5*time.Millisecond)

	_, err := n.ConsumeRemoteProducer(context.Background(), "u1", "v1")
	assert.ErrorIs(t, err, ErrConsumeInFlight)

	close(release)
	require.NoError(t, <-first)
	assert.Equal(t, 1, sig.count(core.MsgConsume))
	assert.Equal(t, []string{"v1"}, dev.recv[0].consumed())

	// Once settled the producer is served from the live wrapper.
	w := consume(t, n, "u1", "v1")
	assert.Equal(t, "v1", w.ProducerID)
	assert.Equal(t, 1, sig.count(core.MsgConsume))
}

func TestClosePeerDuringTransportCreation(t *testing.T) {
	n, sig, dev := newTestNegotiator(false)
	base := sig.handlers[core.MsgCreateTransport]
	release := make(chan struct{})
	sig.handle(core.MsgCreateTransport, func(p any) (any, error) {
		<-release
		return base(p)
	})

	done := make(chan error, 1)
	go func() {
		_, err := n.ConsumeRemoteProducer(context.Background(), "u1", "a1")
		done <- err
	}()
	require.Eventually(t, func() bool { return sig.count(core.MsgCreateTransport) == 1 }, time.Second, 5*time.Millisecond)

	n.ClosePeer("u1")
	close(release)

	require.ErrorIs(t, <-done, ErrPeerGone)
	require.Equal(t, 1, dev.recvCount())
	assert.True(t, dev.recv[0].isClosed())
	assert.Zero(t, n.RecvTransportCount())
	assert.Empty(t, n.Wrappers())
	assert.Zero(t, sig.count(core.MsgConsume))

	// The peer may come back and is served normally.
	sig.handle(core.MsgCreateTransport, base)
	consume(t, n, "u1", "a1")
	assert.Equal(t, 1, n.RecvTransportCount())
}

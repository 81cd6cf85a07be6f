package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/costudy/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (s *Session) writePump(ctx context.Context, conn WSConn) {
	var ping <-chan time.Time
	if s.opts.PingPeriod > 0 {
		ticker := time.NewTicker(s.opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ping:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping")
				_ = conn.Close()
				return
			}
		case data := <-s.send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				_ = conn.Close()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				_ = conn.Close()
				return
			}
		}
	}
}

// readPump is the only writer of the events mailbox.
func (s *Session) readPump(conn WSConn) {
	defer func() {
		log.Info().Str("module", "signal").Msg("readPump closing")
		s.closeEvents()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.isClosed() {
				return
			}
			log.Error().Err(err).Str("module", "signal").Msg("readPump read error")
			s.deliver(core.Event{Name: core.EvtDisconnect})
			s.shutdown()
			return
		}
		s.handleFrame(data)
	}
}

func (s *Session) handleFrame(data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch {
	case env.Ack:
		s.handleResponse(env)
	case env.Type == core.EvtConnectionSuccess:
		s.readyOnce.Do(func() { close(s.ready) })
	case env.Type == "":
		log.Warn().Str("module", "signal").Msg("frame without type")
	default:
		s.deliver(core.Event{Name: env.Type, Data: env.Data})
	}
}

func (s *Session) handleResponse(env core.Envelope) {
	res := result{data: env.Data}
	if env.Error != nil {
		res.err = &ServerError{Name: env.Type, Message: env.Error.Message, Code: env.Error.Code}
	}
	if !s.pending.resolve(env.Type, env.ID, res) {
		log.Warn().Str("module", "signal").Str("type", env.Type).Str("id", env.ID).Msg("response without pending request")
	}
}

// deliver blocks while the mailbox is full. Events are never dropped or
// reordered; the only way out is a local teardown.
func (s *Session) deliver(ev core.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
		log.Debug().Str("module", "signal").Str("type", ev.Name).Msg("event dropped after teardown")
	}
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	livedecode "github.com/ieee0824/livedecode-go"
	"github.com/ieee0824/livedecode-go/asrerr"
	"github.com/ieee0824/livedecode-go/audio"
	"github.com/ieee0824/livedecode-go/store"
)

// event is something the reader goroutine hands to the decode loop. The
// reader waits on ack for controls, so audio sent after a finish or reset
// belongs to the next utterance.
type event struct {
	control string
	err     error
	ack     chan struct{}
}

// conn is one websocket connection. The reader goroutine feeds audio into
// the session; everything else, writes included, happens on the goroutine
// running run.
type conn struct {
	srv   *Server
	ws    *websocket.Conn
	codec codec
	sess  *livedecode.Decoder
	rs    *audio.Resampler
	pcm   audio.PCMDecoder
	log   zerolog.Logger
	id    string
	rate  int

	wake chan struct{}
	done chan struct{}

	utterances int
}

// drainTimeout bounds how long a connection whose write side failed keeps
// reading audio still in flight.
const drainTimeout = 5 * time.Second

func (c *conn) run(ctx context.Context) {
	defer close(c.done)
	events := make(chan event)
	go c.readLoop(events)

	if err := c.serve(ctx, events); err != nil {
		c.log.Debug().Err(err).Msg("stream stopped")
	}
	// Nothing more is sent. Take the audio the reader still has, then keep
	// what was said so far.
	if err := c.ws.SetReadDeadline(time.Now().Add(drainTimeout)); err != nil {
		c.log.Debug().Err(err).Msg("set read deadline")
	}
	for ev := range events {
		if ev.ack != nil {
			close(ev.ack)
		}
	}
	c.sess.InputFinished()
	for c.sess.Decode(-1) > 0 {
	}
	c.persistOnly(ctx)
}

// serve runs the decode loop until the client goes away (nil), a write
// fails or ctx ends.
func (c *conn) serve(ctx context.Context, events <-chan event) error {
	if err := c.send(&Message{Type: TypeReady, Session: c.id, SampleRate: c.rate}); err != nil {
		return err
	}
	var partial string
	var finishing chan struct{}
	defer func() {
		if finishing != nil {
			close(finishing)
		}
	}()
	endUtterance := func(rule int) error {
		err := c.final(ctx, rule)
		partial = ""
		if finishing != nil {
			close(finishing)
			finishing = nil
		}
		return err
	}
	for {
		if n := c.sess.Decode(c.srv.maxFrames); n > 0 {
			if rule, ok := c.sess.Endpoint(); ok {
				if err := endUtterance(rule); err != nil {
					return err
				}
				continue
			}
			if text := c.bestText(); text != partial {
				partial = text
				if err := c.send(&Message{Type: TypePartial, Session: c.id, Text: text, Frames: c.sess.NumFramesDecoded()}); err != nil {
					return err
				}
			}
			continue
		}
		if finishing != nil {
			if err := endUtterance(0); err != nil {
				return err
			}
			continue
		}

		select {
		case <-c.wake:
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.err != nil {
				if err := c.sendError(ev.err); err != nil {
					return err
				}
				continue
			}
			switch ev.control {
			case ControlFinish:
				c.sess.InputFinished()
				finishing = ev.ack
			case ControlReset:
				err := c.sess.Reset(false)
				close(ev.ack)
				if err != nil {
					if serr := c.sendError(err); serr != nil {
						c.log.Debug().Err(serr).Msg("cannot report reset failure")
					}
					return err
				}
				partial = ""
			default:
				err := c.sendError(fmt.Errorf("unknown control %q", ev.control))
				close(ev.ack)
				if err != nil {
					return err
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *conn) readLoop(events chan<- event) {
	defer close(events)
	emit := func(ev event) bool {
		select {
		case events <- ev:
			return true
		case <-c.done:
			return false
		}
	}
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("read ended")
			}
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			if err := c.feed(data); err != nil {
				if !emit(event{err: err}) {
					return
				}
				continue
			}
			select {
			case c.wake <- struct{}{}:
			default:
			}
		case websocket.TextMessage:
			var ctl Control
			if err := json.Unmarshal(data, &ctl); err != nil {
				err = fmt.Errorf("bad control message: %w", err)
				if !emit(event{err: err}) {
					return
				}
				continue
			}
			ack := make(chan struct{})
			if !emit(event{control: ctl.Type, ack: ack}) {
				return
			}
			select {
			case <-ack:
			case <-c.done:
				return
			}
			// Audio after a control starts on a sample boundary.
			c.pcm.Reset()
		}
	}
}

// feed queues one binary message of PCM. Only the reader goroutine
// touches c.pcm, so a sample split across messages survives the resets
// between utterances.
func (c *conn) feed(data []byte) error {
	samples, err := c.pcm.Decode(data)
	if err != nil {
		return err
	}
	if c.rs != nil {
		if samples, err = c.rs.Process(samples); err != nil {
			return err
		}
	}
	c.sess.FrameIn(samples)
	return nil
}

func (c *conn) bestText() string {
	hyp, err := c.sess.BestPath()
	if err != nil {
		return ""
	}
	return c.sess.Text(hyp.Words)
}

// final ends the utterance, stores and sends its result, and resets the
// session for the next one. Utterances without frames are dropped.
func (c *conn) final(ctx context.Context, rule int) error {
	defer func() {
		if err := c.sess.Reset(false); err != nil {
			c.log.Debug().Err(err).Msg("reset after final")
		}
	}()
	if c.sess.NumFramesDecoded() == 0 {
		return nil
	}
	c.sess.FinalizeDecoding()
	u, err := c.sess.Utterance()
	if err != nil {
		return c.sendError(err)
	}
	c.utterances++
	id := c.persist(ctx, u, rule)
	c.log.Debug().Str("text", u.Text).Int("frames", u.Frames).Int("endpoint_rule", rule).Msg("final")
	return c.send(&Message{
		Type:     TypeFinal,
		Session:  c.id,
		ID:       id,
		Text:     u.Text,
		Frames:   u.Frames,
		Endpoint: rule,
		Result:   &u,
	})
}

// persistOnly stores the pending utterance of a connection that is gone.
func (c *conn) persistOnly(ctx context.Context) {
	if c.sess.NumFramesDecoded() == 0 {
		return
	}
	c.sess.FinalizeDecoding()
	u, err := c.sess.Utterance()
	if err != nil {
		c.log.Warn().Err(err).Msg("dropping last utterance")
		return
	}
	c.utterances++
	c.persist(context.WithoutCancel(ctx), u, 0)
}

func (c *conn) persist(ctx context.Context, u livedecode.Utterance, rule int) string {
	if c.srv.store == nil {
		return ""
	}
	r := store.Result{
		Session:         c.id,
		Text:            u.Text,
		Words:           u.Words,
		Cost:            u.Cost,
		TotalLikelihood: u.TotalLikelihood,
		Frames:          u.Frames,
		EndpointRule:    rule,
	}
	for _, a := range u.Arcs {
		r.Arcs = append(r.Arcs, store.Arc{From: a.From, To: a.To, Word: a.Word, Posterior: a.Posterior})
	}
	id, err := c.srv.store.Put(ctx, r)
	if err != nil {
		c.log.Error().Err(err).Msg("cannot store result")
		return ""
	}
	return id
}

func (c *conn) send(m *Message) error {
	data, err := c.codec.encode(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Type, err)
	}
	if err := c.ws.WriteMessage(c.codec.messageType(), data); err != nil {
		c.log.Debug().Err(err).Msg("write failed")
		return err
	}
	return nil
}

func (c *conn) sendError(err error) error {
	kind := asrerr.KindOf(err)
	c.srv.metrics.RecordError(context.Background(), string(kind), "stream")
	return c.send(&Message{Type: TypeError, Session: c.id, Error: err.Error(), Kind: string(kind)})
}

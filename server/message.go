package server

import (
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	livedecode "github.com/ieee0824/livedecode-go"
)

// Message types sent by the server.
const (
	TypeReady   = "ready"
	TypePartial = "partial"
	TypeFinal   = "final"
	TypeError   = "error"
)

// Control message types sent by the client.
const (
	ControlFinish = "finish"
	ControlReset  = "reset"
)

// Subprotocols selecting the server message encoding.
const (
	ProtocolJSON    = "json"
	ProtocolMsgpack = "msgpack"
)

// Message is a server to client message.
// Message is a server to client message. ID names the stored result of a
// final message.
type Message struct {
	Type       string                `json:"type" msgpack:"type"`
	Session    string                `json:"session,omitempty" msgpack:"session,omitempty"`
	ID         string                `json:"id,omitempty" msgpack:"id,omitempty"`
	SampleRate int                   `json:"sample_rate,omitempty" msgpack:"sample_rate,omitempty"`
	Text       string                `json:"text,omitempty" msgpack:"text,omitempty"`
	Frames     int                   `json:"frames,omitempty" msgpack:"frames,omitempty"`
	Endpoint   int                   `json:"endpoint_rule,omitempty" msgpack:"endpoint_rule,omitempty"`
	Error      string                `json:"error,omitempty" msgpack:"error,omitempty"`
	Kind       string                `json:"kind,omitempty" msgpack:"kind,omitempty"`
	Result     *livedecode.Utterance `json:"result,omitempty" msgpack:"result,omitempty"`
}

// Control is a client to server text message.
type Control struct {
	Type string `json:"type"`
}

type codec interface {
	encode(m *Message) ([]byte, error)
	messageType() int
}

type jsonCodec struct{}

func (jsonCodec) encode(m *Message) ([]byte, error) { return json.Marshal(m) }
func (jsonCodec) messageType() int                  { return websocket.TextMessage }

type msgpackCodec struct{}

func (msgpackCodec) encode(m *Message) ([]byte, error) { return msgpack.Marshal(m) }
func (msgpackCodec) messageType() int                  { return websocket.BinaryMessage }

func codecFor(protocol string) codec {
	if protocol == ProtocolMsgpack {
		return msgpackCodec{}
	}
	return jsonCodec{}
}

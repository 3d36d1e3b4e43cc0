// protocol/codec.go
// Copyright(c) 2025-2026 dronesync contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/aerowind/dronesync/util"

	"github.com/pkg/errors"
)

var (
	ErrMissingType        = errors.New("message has no type")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrInvalidRoute       = errors.New("invalid route")
)

var decoders = map[MessageType]func([]byte) (ServerMessage, error){
	SceneMessage:           decoder[Scene](),
	WindFieldMessage:       decoder[WindField](),
	FullSceneMessage:       decoder[FullScene](),
	PathsMessage:           decoder[Paths](),
	SimulationStartMessage: decoder[SimulationStart](),
	FrameMessage:           decoder[Frame](),
	SimulationEndMessage:   decoder[SimulationEnd](),
	CompleteMessage:        decoder[Complete](),
	PongMessage:            decoder[Pong](),
	ErrorMessage:           decoder[Error](),
}

func decoder[T any, PT interface {
	*T
	ServerMessage
}]() func([]byte) (ServerMessage, error) {
	return func(b []byte) (ServerMessage, error) {
		var m T
		if err := util.UnmarshalJSONBytes(b, &m); err != nil {
			return nil, err
		}
		return PT(&m), nil
	}
}

// DecodeServerMessage decodes a single text message from the backend. An
// error is returned for malformed JSON, a missing or unknown type, or a
// route-tagged message with an unknown route; the caller is expected to
// drop the message and carry on.
func DecodeServerMessage(b []byte) (ServerMessage, error) {
	var env struct {
		Type MessageType `json:"type"`
	}
	if err := util.UnmarshalJSONBytes(b, &env); err != nil {
		return nil, errors.Wrap(err, "decoding message envelope")
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	decode, ok := decoders[env.Type]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMessageType, "%q", env.Type)
	}

	msg, err := decode(b)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %q message", env.Type)
	}

	switch m := msg.(type) {
	case *Frame:
		if !m.Route.Valid() {
			return nil, errors.Wrapf(ErrInvalidRoute, "frame: %q", m.Route)
		}
	case *SimulationEnd:
		if !m.Route.Valid() {
			return nil, errors.Wrapf(ErrInvalidRoute, "simulation_end: %q", m.Route)
		}
	}

	return msg, nil
}

// EncodeClientMessage returns the JSON encoding of the request with its
// "type" discriminator as the first field.
func EncodeClientMessage(msg ClientMessage) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("nil client message")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %q request", msg.MessageType())
	}
	ty, err := json.Marshal(msg.MessageType())
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(ty)
	if fields := bytes.TrimSpace(body[1 : len(body)-1]); len(fields) > 0 {
		buf.WriteByte(',')
		buf.Write(fields)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

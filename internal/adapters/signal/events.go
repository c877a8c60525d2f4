package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/thanhcanhit/bond-hub-call/internal/domain"
)

// Wire payloads for server notifications. Each notification method maps to
// exactly one domain event; unknown methods are logged and dropped.

type participantPayload struct {
	RoomID   domain.RoomID `json:"roomId"`
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username,omitempty"`
}

type producerPayload struct {
	RoomID     domain.RoomID    `json:"roomId"`
	ProducerID string           `json:"producerId"`
	UserID     domain.UserID    `json:"userId,omitempty"`
	Kind       domain.MediaKind `json:"kind,omitempty"`
}

type callPayload struct {
	CallID domain.CallID `json:"callId"`
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

type roomPayload struct {
	RoomID domain.RoomID `json:"roomId"`
	UserID domain.UserID `json:"userId,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

func (c *Client) handleNotification(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	if !req.Notif {
		// The server drives us with notifications only; requests are not
		// part of the client contract.
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "client handles notifications only"}
	}

	ev, err := decodeEvent(req)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("method", req.Method).Msg("bad notification payload")
		return nil, nil
	}
	if ev == nil {
		log.Warn().Str("module", "signal").Str("method", req.Method).Msg("unknown notification")
		return nil, nil
	}
	c.emit(ev)
	return nil, nil
}

func decodeEvent(req *jsonrpc2.Request) (domain.Event, error) {
	raw := []byte("{}")
	if req.Params != nil {
		raw = *req.Params
	}

	switch req.Method {
	case "participantJoined":
		var p participantPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return domain.ParticipantJoined{
			RoomID:      p.RoomID,
			Participant: domain.Participant{UserID: p.UserID, Username: p.Username},
		}, nil
	case "participantLeft":
		var p participantPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return domain.ParticipantLeft{RoomID: p.RoomID, UserID: p.UserID}, nil
	case "newProducer":
		var p producerPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return domain.NewProducer{RoomID: p.RoomID, ProducerID: p.ProducerID, UserID: p.UserID, Kind: p.Kind}, nil
	case "producerClosed":
		var p producerPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return domain.ProducerClosed{RoomID: p.RoomID, ProducerID: p.ProducerID}, nil
	case "callAccepted":
		var p callPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return domain.CallAccepted{CallID: p.CallID, RoomID: p.RoomID, UserID: p.UserID}, nil
	case "callRejected":
		var p callPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return domain.CallRejected{CallID: p.CallID, RoomID: p.RoomID, Reason: p.Reason}, nil
	case "sessionEnded":
		var p roomPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return domain.SessionEnded{RoomID: p.RoomID, Reason: p.Reason}, nil
	case "roomCreated":
		var p roomPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return domain.RoomCreated{RoomID: p.RoomID}, nil
	case "roomClosed":
		var p roomPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return domain.RoomClosed{RoomID: p.RoomID}, nil
	case "roomJoined":
		var p roomPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return domain.RoomJoined{RoomID: p.RoomID, UserID: p.UserID}, nil
	case "connectionError":
		var p roomPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return domain.ConnectionError{Reason: p.Reason}, nil
	}
	return nil, nil
}

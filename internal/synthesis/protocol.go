package synthesis

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eleven-am/voice-stream/internal/session"
	"github.com/eleven-am/voice-stream/internal/shared"
	"github.com/eleven-am/voice-stream/internal/signature"
	"github.com/eleven-am/voice-stream/internal/transport"
)

const (
	statusKeepAlive = 0
	statusAppend    = 1
	statusEnd       = 2
)

type frameCommon struct {
	AppID string `json:"app_id"`
}

type frameData struct {
	Status int    `json:"status"`
	Text   string `json:"text"`
}

type frame struct {
	Common   frameCommon `json:"common"`
	Business Business    `json:"business"`
	Data     frameData   `json:"data"`
}

type response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Sid     string `json:"sid"`
	Data    *struct {
		Audio  string `json:"audio"`
		Status int    `json:"status"`
		Ced    string `json:"ced"`
	} `json:"data"`
}

// protocol is the synthesis wire format. Every frame repeats the app id and
// business block; status distinguishes keepalive, append and end.
type protocol struct {
	business Business
}

func (p protocol) Purpose() shared.Purpose { return shared.PurposeSynthesis }

func (p protocol) RequiresAck() bool { return false }

func (p protocol) Handshake(*signature.Signature) ([]transport.Message, error) {
	return nil, nil
}

// Encode sends a final text unit as a single end frame carrying the text,
// which is also the one-shot request shape.
func (p protocol) Encode(sig *signature.Signature, u session.Unit) ([]transport.Message, error) {
	if u.Kind != session.UnitText {
		return nil, errors.New("synthesis accepts text only")
	}
	status := statusAppend
	if u.EndOfStream {
		status = statusEnd
	}
	msg, err := p.encode(sig, status, u.Text)
	if err != nil {
		return nil, err
	}
	return []transport.Message{msg}, nil
}

func (p protocol) KeepAlive(sig *signature.Signature) (transport.Message, error) {
	return p.encode(sig, statusKeepAlive, "")
}

func (p protocol) encode(sig *signature.Signature, status int, text string) (transport.Message, error) {
	f := frame{
		Common:   frameCommon{AppID: sig.AppID},
		Business: p.business,
		Data: frameData{
			Status: status,
			Text:   base64.StdEncoding.EncodeToString([]byte(text)),
		},
	}
	data, err := json.Marshal(f)
	if err != nil {
		return transport.Message{}, err
	}
	return transport.Text(data), nil
}

func (p protocol) Decode(msg transport.Message) (session.Event, error) {
	if msg.Type != transport.TextMessage {
		return session.Event{}, fmt.Errorf("unexpected binary message of %d bytes", len(msg.Data))
	}

	var resp response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return session.Event{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Code != 0 {
		return session.Event{
			Kind:      session.EventFailure,
			SessionID: resp.Sid,
			Code:      resp.Code,
			Message:   resp.Message,
		}, nil
	}
	if resp.Data == nil {
		return session.Event{Kind: session.EventIgnore, SessionID: resp.Sid}, nil
	}

	audio, err := base64.StdEncoding.DecodeString(resp.Data.Audio)
	if err != nil {
		return session.Event{}, fmt.Errorf("decode audio: %w", err)
	}
	return session.Event{
		Kind:      session.EventAudio,
		SessionID: resp.Sid,
		Audio:     audio,
		Final:     resp.Data.Status == statusEnd,
	}, nil
}

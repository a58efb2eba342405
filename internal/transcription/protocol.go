package transcription

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/eleven-am/voice-stream/internal/session"
	"github.com/eleven-am/voice-stream/internal/shared"
	"github.com/eleven-am/voice-stream/internal/signature"
	"github.com/eleven-am/voice-stream/internal/transcript"
	"github.com/eleven-am/voice-stream/internal/transport"
)

var endMarker = []byte(`{"end":true}`)

// code accepts the status code as either a JSON string or number.
type code int

func (c *code) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("status code %q: %w", data, err)
	}
	*c = code(n)
	return nil
}

type envelope struct {
	Action string `json:"action"`
	Code   code   `json:"code"`
	Data   string `json:"data"`
	Desc   string `json:"desc"`
	Sid    string `json:"sid"`
}

type resultData struct {
	SegID int    `json:"seg_id"`
	Biz   string `json:"biz"`
	Src   string `json:"src"`
	Dst   string `json:"dst"`
	IsEnd bool   `json:"isEnd"`
	CN    struct {
		ST struct {
			Type string `json:"type"`
			RT   []struct {
				WS []struct {
					CW []struct {
						W string `json:"w"`
					} `json:"cw"`
				} `json:"ws"`
			} `json:"rt"`
		} `json:"st"`
	} `json:"cn"`
}

// protocol speaks the continuous transcription wire format: parameters in
// the URL, a "started" acknowledgment, binary audio and JSON results keyed
// by segment.
type protocol struct {
	params Params
}

func (p protocol) Purpose() shared.Purpose { return shared.PurposeTranscription }

func (p protocol) RequiresAck() bool { return true }

func (p protocol) DialURL(sig *signature.Signature) (string, error) {
	u, err := url.Parse(sig.URL)
	if err != nil {
		return "", err
	}
	params := p.params.withDefaults()
	q := u.Query()
	if q.Get("lang") == "" {
		q.Set("lang", params.Language)
	}
	if q.Get("pd") == "" && params.Domain != DefaultDomain {
		q.Set("pd", params.Domain)
	}
	if q.Get("accent") == "" && params.Accent != DefaultAccent {
		q.Set("accent", params.Accent)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p protocol) Handshake(*signature.Signature) ([]transport.Message, error) {
	return nil, nil
}

func (p protocol) Encode(_ *signature.Signature, u session.Unit) ([]transport.Message, error) {
	if u.Kind != session.UnitAudio {
		return nil, errors.New("transcription accepts audio only")
	}
	var msgs []transport.Message
	if len(u.Audio) > 0 {
		msgs = append(msgs, transport.Binary(u.Audio))
	}
	if u.EndOfStream {
		msgs = append(msgs, transport.Text(endMarker))
	}
	return msgs, nil
}

func (p protocol) Decode(msg transport.Message) (session.Event, error) {
	if msg.Type != transport.TextMessage {
		return session.Event{}, fmt.Errorf("unexpected binary message of %d bytes", len(msg.Data))
	}

	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return session.Event{}, fmt.Errorf("decode envelope: %w", err)
	}

	if env.Action == "error" || env.Code != 0 {
		return session.Event{
			Kind:      session.EventFailure,
			SessionID: env.Sid,
			Code:      int(env.Code),
			Message:   env.Desc,
		}, nil
	}

	switch env.Action {
	case "started":
		return session.Event{Kind: session.EventAck, SessionID: env.Sid}, nil
	case "result":
		return decodeResult(env)
	default:
		return session.Event{Kind: session.EventIgnore, SessionID: env.Sid}, nil
	}
}

func decodeResult(env envelope) (session.Event, error) {
	var rd resultData
	if err := json.Unmarshal([]byte(env.Data), &rd); err != nil {
		return session.Event{}, fmt.Errorf("decode result: %w", err)
	}

	ev := session.Event{Kind: session.EventResult, SessionID: env.Sid}
	if rd.IsEnd {
		ev.Final = true
		return ev, nil
	}

	var words []string
	if rd.Biz == "trans" {
		words = []string{rd.Src}
		ev.Translation = rd.Dst
	} else {
		for _, rt := range rd.CN.ST.RT {
			for _, ws := range rt.WS {
				for _, cw := range ws.CW {
					words = append(words, cw.W)
				}
			}
		}
	}

	ev.Segment = true
	ev.Final = rd.CN.ST.Type == "0"
	ev.Fragment = &transcript.Fragment{
		SN:    rd.SegID,
		Words: words,
		Pgs:   transcript.Replace,
		Range: [2]int{rd.SegID, rd.SegID},
	}
	ev.Text = ev.Fragment.Text()
	return ev, nil
}

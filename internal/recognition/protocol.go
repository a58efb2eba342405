package recognition

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eleven-am/voice-stream/internal/session"
	"github.com/eleven-am/voice-stream/internal/shared"
	"github.com/eleven-am/voice-stream/internal/signature"
	"github.com/eleven-am/voice-stream/internal/transcript"
	"github.com/eleven-am/voice-stream/internal/transport"
)

const (
	statusFirst = 0
	statusAudio = 1
	statusLast  = 2
)

type frame struct {
	Common   *frameCommon   `json:"common,omitempty"`
	Business *frameBusiness `json:"business,omitempty"`
	Data     frameData      `json:"data"`
}

type frameCommon struct {
	AppID string `json:"app_id"`
}

type frameBusiness struct {
	Language string `json:"language,omitempty"`
	Domain   string `json:"domain"`
	Accent   string `json:"accent,omitempty"`
	VADEos   int    `json:"vad_eos,omitempty"`
	Dwa      string `json:"dwa,omitempty"`
	Ptt      *int   `json:"ptt,omitempty"`
}

type frameData struct {
	Status   int    `json:"status"`
	Format   string `json:"format"`
	Encoding string `json:"encoding"`
	Audio    string `json:"audio,omitempty"`
}

type response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Sid     string `json:"sid"`
	Data    *struct {
		Status int           `json:"status"`
		Result *resultPayload `json:"result"`
	} `json:"data"`
}

type resultPayload struct {
	Sn  int    `json:"sn"`
	Ls  bool   `json:"ls"`
	Pgs string `json:"pgs"`
	Rg  []int  `json:"rg"`
	Ws  []struct {
		Cw []struct {
			W string `json:"w"`
		} `json:"cw"`
	} `json:"ws"`
}

// protocol speaks the dictation wire format: JSON frames carrying base64
// audio, results keyed by sequence number.
type protocol struct {
	opts Options
}

func (p protocol) Purpose() shared.Purpose { return shared.PurposeRecognition }

func (p protocol) RequiresAck() bool { return false }

func (p protocol) Handshake(sig *signature.Signature) ([]transport.Message, error) {
	b := &frameBusiness{
		Language: p.opts.Language,
		Domain:   p.opts.Domain,
		Accent:   p.opts.Accent,
		VADEos:   p.opts.VADEos,
	}
	if b.Domain == "" {
		b.Domain = "iat"
	}
	if p.opts.DynamicCorrection && b.Language == "zh_cn" {
		b.Dwa = "wpgs"
	}
	if !p.opts.Punctuation {
		off := 0
		b.Ptt = &off
	}

	msg, err := encodeFrame(frame{
		Common:   &frameCommon{AppID: sig.AppID},
		Business: b,
		Data:     frameData{Status: statusFirst, Format: audioFormat, Encoding: audioEncoding},
	})
	if err != nil {
		return nil, err
	}
	return []transport.Message{msg}, nil
}

func (p protocol) Encode(_ *signature.Signature, u session.Unit) ([]transport.Message, error) {
	if u.Kind != session.UnitAudio {
		return nil, errors.New("dictation accepts audio only")
	}

	var msgs []transport.Message
	if len(u.Audio) > 0 {
		msg, err := encodeFrame(frame{Data: frameData{
			Status:   statusAudio,
			Format:   audioFormat,
			Encoding: audioEncoding,
			Audio:    base64.StdEncoding.EncodeToString(u.Audio),
		}})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if u.EndOfStream {
		msg, err := encodeFrame(frame{Data: frameData{Status: statusLast, Format: audioFormat, Encoding: audioEncoding}})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (p protocol) Decode(msg transport.Message) (session.Event, error) {
	if msg.Type != transport.TextMessage {
		return session.Event{}, fmt.Errorf("unexpected binary message of %d bytes", len(msg.Data))
	}

	var resp response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return session.Event{}, fmt.Errorf("decode result: %w", err)
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

	ev := session.Event{
		Kind:      session.EventResult,
		SessionID: resp.Sid,
		Final:     resp.Data.Status == statusLast,
	}
	if r := resp.Data.Result; r != nil {
		f := toFragment(r)
		ev.Fragment = &f
		ev.Text = f.Text()
	}
	return ev, nil
}

func toFragment(r *resultPayload) transcript.Fragment {
	f := transcript.Fragment{SN: r.Sn, Last: r.Ls}
	for _, w := range r.Ws {
		if len(w.Cw) > 0 {
			f.Words = append(f.Words, w.Cw[0].W)
		}
	}
	if r.Pgs == "rpl" && len(r.Rg) == 2 {
		f.Pgs = transcript.Replace
		f.Range = [2]int{r.Rg[0], r.Rg[1]}
	}
	return f
}

func encodeFrame(f frame) (transport.Message, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return transport.Message{}, err
	}
	return transport.Text(data), nil
}

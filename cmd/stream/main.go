package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eleven-am/voice-stream/internal/audio"
	"github.com/eleven-am/voice-stream/internal/pcm"
	"github.com/eleven-am/voice-stream/internal/transcription"
	"github.com/gorilla/websocket"
)

// 40 ms of 16 kHz mono PCM16.
const chunkBytes = 1280

func main() {
	server := flag.String("server", "ws://localhost:8080/api/v1/transcription/stream", "stream endpoint")
	target := flag.String("target", "", "stream target")
	language := flag.String("language", "", "transcription language")
	realtime := flag.Bool("realtime", true, "pace audio at playback speed")
	flag.Parse()

	if *target == "" || flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: stream -target name [-language code] file.wav")
		os.Exit(2)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatal("open:", err)
	}
	clip, err := audio.DecodeWAV(f)
	f.Close()
	if err != nil {
		log.Fatal("decode:", err)
	}
	data := pcm.ToMono16k(clip.PCM, clip.SampleRate, clip.Channels)

	u, err := url.Parse(*server)
	if err != nil {
		log.Fatal("server url:", err)
	}
	q := u.Query()
	q.Set("target", *target)
	if *language != "" {
		q.Set("language", *language)
	}
	u.RawQuery = q.Encode()

	fmt.Printf("[STREAM] Connecting to %s\n", u.String())
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			fmt.Printf("[STREAM] Dial failed: status=%d, body=%s\n", resp.StatusCode, string(body))
		}
		log.Fatal("dial:", err)
	}
	defer conn.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("[STREAM] Shutting down...")
		conn.Close()
		os.Exit(0)
	}()

	go send(conn, data, *realtime)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				fmt.Printf("[STREAM] Read error: %v\n", err)
			}
			return
		}

		var msg transcription.StreamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			fmt.Printf("[STREAM] Unmarshal error: %v\n", err)
			continue
		}

		switch msg.Type {
		case transcription.MessageResult:
			marker := "…"
			if msg.Final {
				marker = "✓"
			}
			fmt.Printf("[STREAM] %s %s\n", marker, msg.Text)
		case transcription.MessageTranslation:
			fmt.Printf("[STREAM] %s => %s\n", msg.Text, msg.Translation)
		case transcription.MessageError:
			fmt.Printf("[STREAM] Error %d: %s\n", msg.Code, msg.Message)
		case transcription.MessageClosed:
			fmt.Printf("[STREAM] Closed (%d) %s\n", msg.Code, msg.Message)
		}
	}
}

func send(conn *websocket.Conn, data []byte, realtime bool) {
	interval := pcm.Duration(chunkBytes/2, 16000)
	for off := 0; off < len(data); off += chunkBytes {
		end := min(off+chunkBytes, len(data))
		if err := conn.WriteMessage(websocket.BinaryMessage, data[off:end]); err != nil {
			fmt.Printf("[STREAM] Write error: %v\n", err)
			return
		}
		if realtime {
			time.Sleep(interval)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"end":true}`)); err != nil {
		fmt.Printf("[STREAM] Write error: %v\n", err)
		return
	}
	fmt.Printf("[STREAM] Sent %d bytes of audio\n", len(data))
}

package session

type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateRecognizing  State = "recognizing"
	StateSynthesizing State = "synthesizing"
	StateClosing      State = "closing"
	StateClosed       State = "closed"
	StateError        State = "error"
)

func (s State) String() string {
	return string(s)
}

// Active reports whether the session is exchanging data with the remote.
func (s State) Active() bool {
	return s == StateOpen || s == StateRecognizing || s == StateSynthesizing
}

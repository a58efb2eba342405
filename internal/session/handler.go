package session

// Handler receives lifecycle notifications. Implementations must not block;
// calls arrive on the session's internal goroutines.
type Handler interface {
	OnOpen(sessionID string)
	OnClose(code int, reason string)
	OnError(err error, sessionID string)
	OnStatusChange(state State)
}

// Observer is what a Session reports to: the caller's Handler plus decoded
// result and audio events.
type Observer interface {
	Handler
	OnEvent(ev Event)
}

// NopHandler can be embedded to implement only the callbacks of interest.
type NopHandler struct{}

func (NopHandler) OnOpen(string) {}
func (NopHandler) OnClose(int, string) {}
func (NopHandler) OnError(error, string) {}
func (NopHandler) OnStatusChange(State) {}

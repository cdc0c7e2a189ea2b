package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"gated-chat/internal/webhook"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrBusy         = errors.New("a message is already being sent")
)

// TransportBanner is shown when the webhook could not be reached at all.
const TransportBanner = "Could not reach the assistant. Please try again."

// Transport sends one message and returns the raw reply body.
type Transport interface {
	Send(ctx context.Context, message string) ([]byte, error)
}

// Outcome describes what one Submit changed. Reply is nil when no assistant
// turn was appended; Banner is empty on a clean success.
type Outcome struct {
	Reply  *Turn
	Banner string
	Result webhook.Result
}

// Session orders user and assistant turns and allows one send at a time.
type Session struct {
	transport Transport
	history   *History
	busy      atomic.Bool

	mu     sync.Mutex
	banner string
}

func NewSession(t Transport) *Session {
	return &Session{transport: t, history: NewHistory()}
}

// Submit appends the user turn, sends it and appends whatever reply could be
// salvaged. Only ErrEmptyMessage and ErrBusy are returned as errors; send
// and format failures end up in Outcome.Banner.
func (s *Session) Submit(ctx context.Context, text string) (Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Outcome{}, ErrEmptyMessage
	}
	if !s.busy.CompareAndSwap(false, true) {
		return Outcome{}, ErrBusy
	}
	defer s.busy.Store(false)

	s.setBanner("")
	s.history.AppendUser(text)

	body, err := s.transport.Send(ctx, text)
	if err != nil {
		log.Printf("chat: send failed: %v", err)
		out := Outcome{Banner: TransportBanner + " (" + err.Error() + ")"}
		s.setBanner(out.Banner)
		return out, nil
	}

	res := webhook.NormalizeBody(body)
	out := Outcome{Result: res}
	if res.OK() {
		turn := s.history.AppendAssistant(res.Content)
		out.Reply = &turn
		return out, nil
	}

	log.Printf("chat: webhook reply classified as failure: %s", res.Reason)
	out.Banner = res.Reason
	if res.Content != "" {
		turn := s.history.AppendAssistant(res.Content)
		out.Reply = &turn
	}
	s.setBanner(out.Banner)
	return out, nil
}

func (s *Session) Turns() []Turn { return s.history.All() }

func (s *Session) Busy() bool { return s.busy.Load() }

func (s *Session) Banner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banner
}

func (s *Session) DismissBanner() { s.setBanner("") }

// Reset clears turns and banner.
func (s *Session) Reset() {
	s.history.Reset()
	s.setBanner("")
}

func (s *Session) setBanner(b string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banner = b
}

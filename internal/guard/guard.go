package guard

import (
	"log"
	"sync"
	"time"

	"gated-chat/internal/auth"
)

type State int

const (
	Checking State = iota
	Authorized
	Unauthorized
)

func (s State) String() string {
	switch s {
	case Authorized:
		return "authorized"
	case Unauthorized:
		return "unauthorized"
	default:
		return "checking"
	}
}

const (
	LoginPath           = "/login"
	SuppressedLoginPath = "/login?reset=true"

	// CycleParam tags the redirect the login view issues after verifying
	// the device automatically. Only checks carrying it belong to a
	// login/chat navigation cycle.
	CycleParam   = "verified"
	VerifiedPath = "/?" + CycleParam + "=1"

	DefaultLimit  = 3
	DefaultWindow = 10 * time.Second
)

// SessionSource is the part of the authorization engine the guard reads.
type SessionSource interface {
	Current() auth.Session
	ForceReset() error
}

// Decision tells the caller to either render or redirect, never both.
type Decision struct {
	State    State
	Redirect string
	// Suppress is set when the loop breaker fired and the login view must
	// not auto-verify the device.
	Suppress bool
}

func (d Decision) Render() bool { return d.State == Authorized }

// Guard admits authorized requests and redirects the rest to the login view.
// Unauthorized checks that are part of a navigation cycle are counted within
// window; once they exceed limit the breaker clears session state and sends
// the user to the suppressed login instead of looping. Plain navigation
// never counts.
type Guard struct {
	mu       sync.Mutex
	source   SessionSource
	limit    int
	window   time.Duration
	now      func() time.Time
	state    State
	attempts int
	first    time.Time
}

func New(source SessionSource, limit int, window time.Duration) *Guard {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Guard{source: source, limit: limit, window: window, now: time.Now}
}

func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Check evaluates the current session once. cycle reports whether the
// request arrived through the login view's automatic verification redirect.
func (g *Guard) Check(cycle bool) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state = Checking
	if g.source.Current().IsAuthenticated {
		g.state = Authorized
		g.attempts = 0
		return Decision{State: Authorized}
	}

	g.state = Unauthorized
	if !cycle {
		return Decision{State: Unauthorized, Redirect: LoginPath}
	}
	now := g.now()
	if g.attempts == 0 || now.Sub(g.first) > g.window {
		g.attempts = 0
		g.first = now
	}
	g.attempts++

	if g.attempts > g.limit {
		log.Printf("guard: %d redirects within %s, resetting session state", g.attempts, g.window)
		if err := g.source.ForceReset(); err != nil {
			log.Printf("guard: force reset: %v", err)
		}
		g.attempts = 0
		return Decision{State: Unauthorized, Redirect: SuppressedLoginPath, Suppress: true}
	}
	return Decision{State: Unauthorized, Redirect: LoginPath}
}

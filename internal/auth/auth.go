package auth

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// DeviceSource yields the current device identifier.
type DeviceSource interface {
	ID() string
}

// Result is the outcome of TryAuthorize. Message is meant for the login
// view and is empty for a silent probe failure.
type Result struct {
	Success bool
	Message string
	Err     error
}

// Engine decides whether this device may enter the chat and keeps the
// current session in memory for the route guard.
type Engine struct {
	mu       sync.Mutex
	codes    *Registry
	store    *Store
	device   DeviceSource
	now      func() time.Time
	current  Session
	suppress bool
}

func NewEngine(codes *Registry, store *Store, device DeviceSource) *Engine {
	return &Engine{codes: codes, store: store, device: device, now: time.Now}
}

// Current returns the in-memory session.
func (e *Engine) Current() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// SuppressAutoVerify reports whether the login view must skip the automatic
// device probe (set by ForceReset, cleared by a successful redemption).
func (e *Engine) SuppressAutoVerify() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suppress
}

// Restore derives the session from persisted state at startup. The device
// binding wins; a stored session marker is accepted next and re-registers
// the binding.
func (e *Engine) Restore(suppress bool) Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.current = Session{}
	if suppress {
		e.suppress = true
		return e.current
	}

	deviceID := e.device.ID()
	if b, ok := e.store.BindingFor(deviceID); ok && e.codes.Contains(b.AccessCode) {
		e.current = Session{IsAuthenticated: true, AccessCode: b.AccessCode}
		return e.current
	}

	if sess, ok := e.store.Session(); ok {
		if sess.IsAuthenticated && e.codes.Contains(sess.AccessCode) {
			code := NormalizeCode(sess.AccessCode)
			e.current = Session{IsAuthenticated: true, AccessCode: code}
			if err := e.store.UpsertBinding(Binding{DeviceID: deviceID, AccessCode: code, VerifiedAt: e.now().UnixMilli()}); err != nil {
				log.Printf("auth: register device on restore: %v", err)
			}
			return e.current
		}
		// stale or foreign marker
		if err := e.store.ClearSession(); err != nil {
			log.Printf("auth: clear stale session: %v", err)
		}
	}
	return e.current
}

// TryAuthorize runs a device-verification probe for an empty code and a
// redemption otherwise.
func (e *Engine) TryAuthorize(code string) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	deviceID := e.device.ID()
	if strings.TrimSpace(code) == "" {
		return e.probe(deviceID)
	}
	return e.redeem(deviceID, NormalizeCode(code))
}

func (e *Engine) probe(deviceID string) Result {
	b, ok := e.store.BindingFor(deviceID)
	if !ok || !e.codes.Contains(b.AccessCode) {
		return Result{Err: ErrDeviceProbeFailed}
	}
	sess := Session{IsAuthenticated: true, AccessCode: NormalizeCode(b.AccessCode)}
	if err := e.store.SaveSession(sess); err != nil {
		return Result{Message: "could not save session", Err: fmt.Errorf("save session: %w", err)}
	}
	e.current = sess
	log.Printf("auth: device %s verified with bound code", deviceID)
	return Result{Success: true, Message: "device verified"}
}

func (e *Engine) redeem(deviceID, code string) Result {
	if !e.codes.Contains(code) {
		log.Printf("auth: invalid code attempt on device %s", deviceID)
		return Result{Message: "invalid access code", Err: ErrInvalidCode}
	}

	if e.store.IsCodeUsed(code) && !e.ownsCode(deviceID, code) {
		log.Printf("auth: code %s already used, device %s not bound to it", code, deviceID)
		return Result{Message: "this access code has already been used", Err: ErrCodeAlreadyUsed}
	}

	// Bind first so a consumed code is never left without its device.
	prev, hadPrev := e.store.BindingFor(deviceID)
	if err := e.store.UpsertBinding(Binding{DeviceID: deviceID, AccessCode: code, VerifiedAt: e.now().UnixMilli()}); err != nil {
		return Result{Message: "could not register device", Err: fmt.Errorf("bind device: %w", err)}
	}
	if err := e.store.MarkCodeUsed(code); err != nil {
		e.restoreBinding(deviceID, prev, hadPrev)
		return Result{Message: "could not save access code", Err: fmt.Errorf("mark used: %w", err)}
	}
	if err := e.store.ForgetReleased(deviceID); err != nil {
		log.Printf("auth: forget released binding for %s: %v", deviceID, err)
	}
	sess := Session{IsAuthenticated: true, AccessCode: code}
	if err := e.store.SaveSession(sess); err != nil {
		return Result{Message: "could not save session", Err: fmt.Errorf("save session: %w", err)}
	}
	e.current = sess
	e.suppress = false
	log.Printf("auth: device %s signed in with code %s", deviceID, code)
	return Result{Success: true, Message: "signed in"}
}

// ownsCode reports whether code was redeemed from this device, either as its
// live binding or one cleared by ForceReset.
func (e *Engine) ownsCode(deviceID, code string) bool {
	if b, ok := e.store.BindingFor(deviceID); ok && NormalizeCode(b.AccessCode) == code {
		return true
	}
	b, ok := e.store.ReleasedFor(deviceID)
	return ok && NormalizeCode(b.AccessCode) == code
}

func (e *Engine) restoreBinding(deviceID string, prev Binding, hadPrev bool) {
	var err error
	if hadPrev {
		err = e.store.UpsertBinding(prev)
	} else {
		err = e.store.RemoveBinding(deviceID)
	}
	if err != nil {
		log.Printf("auth: roll back binding for %s: %v", deviceID, err)
	}
}

// Logout drops the session marker. The binding survives, so a later probe
// signs the device back in.
func (e *Engine) Logout() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = Session{}
	return e.store.ClearSession()
}

// ForceReset clears the session marker and this device's binding and
// suppresses the next automatic probe. Used to escape redirect loops. The
// binding is kept as released so the device can still redeem its own code.
func (e *Engine) ForceReset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = Session{}
	e.suppress = true
	if err := e.store.ClearSession(); err != nil {
		return err
	}
	return e.store.ReleaseBinding(e.device.ID())
}

// ResetAll wipes used codes, bindings, session and device id.
func (e *Engine) ResetAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = Session{}
	e.suppress = false
	return e.store.ClearAll()
}

package auth

import (
	"encoding/json"
	"fmt"
	"log"

	"gated-chat/internal/device"
	"gated-chat/internal/storage"
)

// Storage keys. Values are JSON documents.
const (
	UsedCodesKey       = "gated-chat:used-codes"
	VerifiedDevicesKey = "gated-chat:verified-devices"
	SessionKey         = "gated-chat:auth"
	// ReleasedDevicesKey holds bindings cleared by a forced reset. The code
	// stays used, but the device it belonged to may redeem it again.
	ReleasedDevicesKey = "gated-chat:released-devices"
)

// Binding ties a device to the access code that unlocked it.
// VerifiedAt is in Unix milliseconds.
type Binding struct {
	DeviceID   string `json:"deviceId"`
	AccessCode string `json:"accessCode"`
	VerifiedAt int64  `json:"verifiedAt"`
}

// Session is the persisted session marker.
type Session struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	AccessCode      string `json:"accessCode"`
}

// Store persists used codes, device bindings and the session marker. Every
// read degrades to "absent" on failure: a value that does not decode is
// removed and logged instead of being propagated.
type Store struct {
	kv storage.KV
}

func NewStore(kv storage.KV) *Store {
	return &Store{kv: kv}
}

func (s *Store) UsedCodes() []string {
	var codes []string
	if !s.readJSON(UsedCodesKey, &codes) {
		return []string{}
	}
	return codes
}

func (s *Store) IsCodeUsed(code string) bool {
	for _, c := range s.UsedCodes() {
		if c == code {
			return true
		}
	}
	return false
}

// MarkCodeUsed adds code to the used set unless it is already there.
func (s *Store) MarkCodeUsed(code string) error {
	codes := s.UsedCodes()
	for _, c := range codes {
		if c == code {
			return nil
		}
	}
	return s.writeJSON(UsedCodesKey, append(codes, code))
}

func (s *Store) Bindings() []Binding {
	var bindings []Binding
	if !s.readJSON(VerifiedDevicesKey, &bindings) {
		return []Binding{}
	}
	return bindings
}

func (s *Store) BindingFor(deviceID string) (Binding, bool) {
	for _, b := range s.Bindings() {
		if b.DeviceID == deviceID {
			return b, true
		}
	}
	return Binding{}, false
}

// UpsertBinding replaces the device's binding or appends a new one.
func (s *Store) UpsertBinding(binding Binding) error {
	bindings := s.Bindings()
	updated := false
	for i, b := range bindings {
		if b.DeviceID == binding.DeviceID {
			bindings[i] = binding
			updated = true
			break
		}
	}
	if !updated {
		bindings = append(bindings, binding)
	}
	return s.writeJSON(VerifiedDevicesKey, bindings)
}

func (s *Store) RemoveBinding(deviceID string) error {
	bindings := s.Bindings()
	out := make([]Binding, 0, len(bindings))
	for _, b := range bindings {
		if b.DeviceID != deviceID {
			out = append(out, b)
		}
	}
	if len(out) == len(bindings) {
		return nil
	}
	return s.writeJSON(VerifiedDevicesKey, out)
}

// ReleaseBinding moves the device's binding to the released set.
func (s *Store) ReleaseBinding(deviceID string) error {
	b, ok := s.BindingFor(deviceID)
	if !ok {
		return nil
	}
	released := s.releasedWithout(deviceID)
	if err := s.writeJSON(ReleasedDevicesKey, append(released, b)); err != nil {
		return err
	}
	return s.RemoveBinding(deviceID)
}

func (s *Store) ReleasedFor(deviceID string) (Binding, bool) {
	var released []Binding
	if !s.readJSON(ReleasedDevicesKey, &released) {
		return Binding{}, false
	}
	for _, b := range released {
		if b.DeviceID == deviceID {
			return b, true
		}
	}
	return Binding{}, false
}

func (s *Store) ForgetReleased(deviceID string) error {
	if _, ok := s.ReleasedFor(deviceID); !ok {
		return nil
	}
	return s.writeJSON(ReleasedDevicesKey, s.releasedWithout(deviceID))
}

func (s *Store) releasedWithout(deviceID string) []Binding {
	var released []Binding
	s.readJSON(ReleasedDevicesKey, &released)
	out := make([]Binding, 0, len(released))
	for _, b := range released {
		if b.DeviceID != deviceID {
			out = append(out, b)
		}
	}
	return out
}

func (s *Store) Session() (Session, bool) {
	var sess Session
	if !s.readJSON(SessionKey, &sess) {
		return Session{}, false
	}
	return sess, true
}

func (s *Store) SaveSession(sess Session) error {
	return s.writeJSON(SessionKey, sess)
}

func (s *Store) ClearSession() error {
	return s.kv.Remove(SessionKey)
}

// ClearAll removes every key the client owns, the device id included.
func (s *Store) ClearAll() error {
	for _, key := range []string{SessionKey, UsedCodesKey, VerifiedDevicesKey, ReleasedDevicesKey, device.StorageKey} {
		if err := s.kv.Remove(key); err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	return nil
}

func (s *Store) readJSON(key string, v any) bool {
	raw, ok, err := s.kv.Get(key)
	if err != nil {
		log.Printf("auth: read %s: %v", key, err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		log.Printf("auth: discarding corrupted %s: %v", key, err)
		if err := s.kv.Remove(key); err != nil {
			log.Printf("auth: remove %s: %v", key, err)
		}
		return false
	}
	return true
}

func (s *Store) writeJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.kv.Set(key, string(data)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

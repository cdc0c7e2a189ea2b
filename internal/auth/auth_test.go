package auth

import (
	"errors"
	"sync"
	"testing"

	"gated-chat/internal/storage"
)

type fakeDevice struct{ id string }

func (f *fakeDevice) ID() string { return f.id }

func newTestEngine(t *testing.T, codes ...string) (*Engine, *Store, *fakeDevice, storage.KV) {
	t.Helper()
	if len(codes) == 0 {
		codes = []string{"PLUMA2024", "DSM2024", "TESTE123"}
	}
	kv := storage.NewMemoryKV()
	st := NewStore(kv)
	dev := &fakeDevice{id: "device-a"}
	return NewEngine(NewRegistry(codes...), st, dev), st, dev, kv
}

func TestTryAuthorize_InvalidCodeLeavesUsedSetUnchanged(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	for _, code := range []string{"NOPE", "pluma2023", "  ", "DSM-2024"} {
		before := len(st.UsedCodes())
		res := e.TryAuthorize(code)
		if res.Success {
			t.Fatalf("%q: unexpected success", code)
		}
		if code != "  " && !errors.Is(res.Err, ErrInvalidCode) {
			t.Fatalf("%q: want ErrInvalidCode, got %v", code, res.Err)
		}
		if len(st.UsedCodes()) != before {
			t.Fatalf("%q: used set changed", code)
		}
	}
	if e.Current().IsAuthenticated {
		t.Fatalf("session should stay unauthenticated")
	}
}

func TestTryAuthorize_FirstRedemptionThenOtherDeviceRejected(t *testing.T) {
	e, st, dev, _ := newTestEngine(t)

	res := e.TryAuthorize("  pluma2024 ")
	if !res.Success || res.Err != nil {
		t.Fatalf("first redemption failed: %+v", res)
	}
	used := st.UsedCodes()
	if len(used) != 1 || used[0] != "PLUMA2024" {
		t.Fatalf("used set: %v", used)
	}
	if b, ok := st.BindingFor("device-a"); !ok || b.AccessCode != "PLUMA2024" {
		t.Fatalf("binding missing: %+v", b)
	}
	if sess, ok := st.Session(); !ok || !sess.IsAuthenticated || sess.AccessCode != "PLUMA2024" {
		t.Fatalf("session marker: %+v", sess)
	}

	dev.id = "device-b"
	res = e.TryAuthorize("PLUMA2024")
	if res.Success || !errors.Is(res.Err, ErrCodeAlreadyUsed) {
		t.Fatalf("want ErrCodeAlreadyUsed, got %+v", res)
	}
	if res.Message == "" {
		t.Fatalf("already-used must carry a message")
	}
	if _, ok := st.BindingFor("device-b"); ok {
		t.Fatalf("rejected device must not be bound")
	}
}

func TestTryAuthorize_ResubmitOwnCodeIsIdempotent(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	for i := 0; i < 3; i++ {
		if res := e.TryAuthorize("dsm2024"); !res.Success {
			t.Fatalf("attempt %d: %+v", i, res)
		}
	}
	if n := len(st.UsedCodes()); n != 1 {
		t.Fatalf("used set duplicated: %v", st.UsedCodes())
	}
	if n := len(st.Bindings()); n != 1 {
		t.Fatalf("binding duplicated: %+v", st.Bindings())
	}
}

func TestTryAuthorize_RebindOverwrites(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	e.TryAuthorize("DSM2024")
	if res := e.TryAuthorize("TESTE123"); !res.Success {
		t.Fatalf("rebind: %+v", res)
	}
	bs := st.Bindings()
	if len(bs) != 1 || bs[0].AccessCode != "TESTE123" {
		t.Fatalf("want single TESTE123 binding, got %+v", bs)
	}
	// the old code stays consumed
	if !st.IsCodeUsed("DSM2024") {
		t.Fatalf("old code should remain used")
	}
}

func TestTryAuthorize_DeviceProbe(t *testing.T) {
	e, st, dev, _ := newTestEngine(t)

	res := e.TryAuthorize("")
	if res.Success || res.Message != "" || !errors.Is(res.Err, ErrDeviceProbeFailed) {
		t.Fatalf("unbound probe: %+v", res)
	}

	e.TryAuthorize("TESTE123")
	if err := e.Logout(); err != nil {
		t.Fatalf("logout: %v", err)
	}
	before := st.UsedCodes()

	res = e.TryAuthorize("")
	if !res.Success {
		t.Fatalf("bound probe failed: %+v", res)
	}
	if e.Current().AccessCode != "TESTE123" {
		t.Fatalf("session code: %+v", e.Current())
	}
	if after := st.UsedCodes(); len(after) != len(before) {
		t.Fatalf("probe mutated used set: %v -> %v", before, after)
	}

	dev.id = "device-c"
	if res := e.TryAuthorize("   "); res.Success || res.Message != "" {
		t.Fatalf("unbound device probe: %+v", res)
	}
}

func TestTryAuthorize_ProbeRejectsCodeRemovedFromCatalog(t *testing.T) {
	kv := storage.NewMemoryKV()
	st := NewStore(kv)
	dev := &fakeDevice{id: "d"}
	old := NewEngine(NewRegistry("RETIRED"), st, dev)
	if res := old.TryAuthorize("retired"); !res.Success {
		t.Fatalf("setup: %+v", res)
	}
	e := NewEngine(NewRegistry("OTHER"), st, dev)
	if res := e.TryAuthorize(""); res.Success {
		t.Fatalf("probe must fail for a retired code")
	}
}

func TestRestore(t *testing.T) {
	e, st, _, kv := newTestEngine(t)
	e.TryAuthorize("PLUMA2024")

	fresh := NewEngine(NewRegistry("PLUMA2024"), st, &fakeDevice{id: "device-a"})
	if sess := fresh.Restore(false); !sess.IsAuthenticated || sess.AccessCode != "PLUMA2024" {
		t.Fatalf("restore from binding: %+v", sess)
	}
	if sess := fresh.Restore(true); sess.IsAuthenticated {
		t.Fatalf("suppressed restore must stay unauthenticated")
	}
	if !fresh.SuppressAutoVerify() {
		t.Fatalf("suppress flag not set")
	}

	// marker only: restores and re-registers the binding
	other := &fakeDevice{id: "device-z"}
	viaMarker := NewEngine(NewRegistry("PLUMA2024"), st, other)
	if sess := viaMarker.Restore(false); !sess.IsAuthenticated {
		t.Fatalf("restore from marker: %+v", sess)
	}
	if _, ok := st.BindingFor("device-z"); !ok {
		t.Fatalf("marker restore should register device")
	}

	// corrupted marker is discarded
	_ = kv.Set(SessionKey, "{broken")
	_ = kv.Remove(VerifiedDevicesKey)
	if sess := viaMarker.Restore(false); sess.IsAuthenticated {
		t.Fatalf("corrupted marker restored a session")
	}
	if _, ok, _ := kv.Get(SessionKey); ok {
		t.Fatalf("corrupted key not removed")
	}
}

func TestForceResetAndResetAll(t *testing.T) {
	e, st, _, kv := newTestEngine(t)
	e.TryAuthorize("DSM2024")
	_ = kv.Set("gated-chat:device-id", "device-a")

	if err := e.ForceReset(); err != nil {
		t.Fatalf("force reset: %v", err)
	}
	if e.Current().IsAuthenticated || !e.SuppressAutoVerify() {
		t.Fatalf("force reset state: %+v suppress=%v", e.Current(), e.SuppressAutoVerify())
	}
	if _, ok := st.BindingFor("device-a"); ok {
		t.Fatalf("binding survived force reset")
	}
	if !st.IsCodeUsed("DSM2024") {
		t.Fatalf("force reset must not release used codes")
	}
	if res := e.TryAuthorize(""); res.Success {
		t.Fatalf("probe must not sign in after force reset")
	}

	// a redemption clears the suppress flag
	if res := e.TryAuthorize("TESTE123"); !res.Success || e.SuppressAutoVerify() {
		t.Fatalf("redeem after reset: %+v", res)
	}

	if err := e.ResetAll(); err != nil {
		t.Fatalf("reset all: %v", err)
	}
	for _, key := range []string{UsedCodesKey, VerifiedDevicesKey, ReleasedDevicesKey, SessionKey, "gated-chat:device-id"} {
		if _, ok, _ := kv.Get(key); ok {
			t.Fatalf("%s survived reset", key)
		}
	}
	if res := e.TryAuthorize("DSM2024"); !res.Success {
		t.Fatalf("code should be redeemable after reset: %+v", res)
	}
}

func TestForceReset_DeviceRecoversWithOwnCode(t *testing.T) {
	e, st, dev, _ := newTestEngine(t)
	e.TryAuthorize("PLUMA2024")
	if err := e.ForceReset(); err != nil {
		t.Fatalf("force reset: %v", err)
	}

	dev.id = "device-b"
	if res := e.TryAuthorize("PLUMA2024"); res.Success || !errors.Is(res.Err, ErrCodeAlreadyUsed) {
		t.Fatalf("other device took a released code: %+v", res)
	}

	dev.id = "device-a"
	if res := e.TryAuthorize("pluma2024"); !res.Success {
		t.Fatalf("own code rejected after force reset: %+v", res)
	}
	if b, ok := st.BindingFor("device-a"); !ok || b.AccessCode != "PLUMA2024" {
		t.Fatalf("binding not restored: %+v", st.Bindings())
	}
	if _, ok := st.ReleasedFor("device-a"); ok {
		t.Fatalf("released record should be dropped once the device is bound again")
	}
	if n := len(st.UsedCodes()); n != 1 {
		t.Fatalf("used set: %v", st.UsedCodes())
	}
}

// flakyKV fails writes to one key until healed.
type flakyKV struct {
	storage.KV
	mu      sync.Mutex
	failKey string
}

func (f *flakyKV) Set(key, value string) error {
	f.mu.Lock()
	fail := key == f.failKey
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.KV.Set(key, value)
}

func (f *flakyKV) heal() {
	f.mu.Lock()
	f.failKey = ""
	f.mu.Unlock()
}

func TestTryAuthorize_FailedWriteDoesNotConsumeCode(t *testing.T) {
	for _, key := range []string{VerifiedDevicesKey, UsedCodesKey} {
		t.Run(key, func(t *testing.T) {
			kv := &flakyKV{KV: storage.NewMemoryKV(), failKey: key}
			st := NewStore(kv)
			e := NewEngine(NewRegistry("PLUMA2024"), st, &fakeDevice{id: "device-a"})

			res := e.TryAuthorize("PLUMA2024")
			if res.Success || res.Err == nil {
				t.Fatalf("write failure should fail the redemption: %+v", res)
			}
			if e.Current().IsAuthenticated {
				t.Fatalf("session set despite failure")
			}
			if len(st.UsedCodes()) != 0 || len(st.Bindings()) != 0 {
				t.Fatalf("partial state left behind: used=%v bindings=%+v", st.UsedCodes(), st.Bindings())
			}

			kv.heal()
			if res := e.TryAuthorize("PLUMA2024"); !res.Success {
				t.Fatalf("retry on healthy storage: %+v", res)
			}
		})
	}
}

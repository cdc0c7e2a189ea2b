package device

import (
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"gated-chat/internal/storage"
)

// StorageKey holds the persisted device identifier.
const StorageKey = "gated-chat:device-id"

// Identity yields a stable pseudo-random identifier for this device. The id
// is created lazily on first use and never regenerated while the storage key
// exists.
type Identity struct {
	kv  storage.KV
	mu  sync.Mutex
	now func() time.Time
}

func NewIdentity(kv storage.KV) *Identity {
	return &Identity{kv: kv, now: time.Now}
}

// ID returns the stored id, generating and persisting one if absent. When
// storage is unusable a temporary id is returned so callers can continue.
func (d *Identity) ID() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	stored, ok, err := d.kv.Get(StorageKey)
	if err != nil {
		log.Printf("device: read id: %v", err)
		return fmt.Sprintf("temp-%d", d.now().UnixMilli())
	}
	if ok && stored != "" {
		return stored
	}

	id := d.generate()
	if err := d.kv.Set(StorageKey, id); err != nil {
		log.Printf("device: persist id: %v", err)
	}
	log.Printf("device: generated new id %s", id)
	return id
}

// generate mixes a host fingerprint with time and a random suffix.
func (d *Identity) generate() string {
	host, _ := os.Hostname()
	h := fnv.New32a()
	_, _ = fmt.Fprintf(h, "%s|%s|%s|%d", host, runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	return fmt.Sprintf("%d-%d-%s", h.Sum32(), d.now().UnixMilli(), uuid.NewString()[:8])
}

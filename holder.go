package energyguard

import (
	"sync"

	"github.com/kradalby/energyguard/home"
)

// ConfigHolder gives all components a live view of the home layout so
// config updates apply without a restart.
type ConfigHolder struct {
	mu  sync.RWMutex
	cfg *home.Config
}

func NewConfigHolder(cfg *home.Config) *ConfigHolder {
	return &ConfigHolder{cfg: cfg}
}

func (h *ConfigHolder) Get() *home.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

func (h *ConfigHolder) Set(cfg *home.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
}

// RoomForKey maps a ledger key (power entity or synthetic outlet key) to
// its room id.
func (h *ConfigHolder) RoomForKey(key string) (string, bool) {
	cfg := h.Get()
	for _, room := range cfg.Rooms {
		for _, outlet := range room.Outlets {
			if outlet.Plug1Entity == key || outlet.Plug2Entity == key {
				return room.ID, true
			}
			if room.ID+"_"+outlet.ID == key {
				return room.ID, true
			}
		}
	}
	return "", false
}

package config

import (
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/spf13/viper"

	"github.com/asnowfix/ruuvi-collector/pkg/ble"
	"github.com/asnowfix/ruuvi-collector/pkg/ratelimit"
)

// Holder gives concurrent readers the current Config while a watcher
// swaps in new values. It answers the per-device questions by delegating
// to whatever Config is current at call time.
type Holder struct {
	current atomic.Pointer[Config]
}

func NewHolder(c *Config) *Holder {
	h := &Holder{}
	h.current.Store(c)
	return h
}

func (h *Holder) Get() *Config {
	return h.current.Load()
}

func (h *Holder) Set(c *Config) {
	h.current.Store(c)
}

// Watch reloads the configuration file whenever it changes. Invalid
// changes are logged and ignored; the previous Config stays in effect.
// onChange, if not nil, is called after every successful swap.
func (h *Holder) Watch(log logr.Logger, v *viper.Viper, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		c, err := Load(v)
		if err != nil {
			log.Error(err, "Ignoring configuration change", "file", e.Name)
			return
		}
		// Keep the MQTT identity stable across reloads.
		if v.GetString("mqtt.client_id") == "" {
			c.MQTT.ClientID = h.Get().MQTT.ClientID
		}
		h.Set(c)
		log.Info("Configuration reloaded", "file", e.Name)
		if onChange != nil {
			onChange(c)
		}
	})
	v.WatchConfig()
}

func (h *Holder) IsAllowedMAC(a ble.Address) bool {
	return h.Get().IsAllowedMAC(a)
}

func (h *Holder) RateLimitStrategy(a ble.Address) ratelimit.Strategy {
	return h.Get().RateLimitStrategy(a)
}

func (h *Holder) DisplayName(a ble.Address) string {
	return h.Get().DisplayName(a)
}

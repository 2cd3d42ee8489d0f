// Package config loads the collector settings from a YAML file, the
// environment and command-line flags through viper.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/asnowfix/ruuvi-collector/pkg/ble"
	"github.com/asnowfix/ruuvi-collector/pkg/ratelimit"
)

const Name = "ruuvi-collector"

const EnvPrefix = "RUUVI"

const (
	DefaultScanCommand = "hcitool lescan --duplicates --passive"
	DefaultDumpCommand = "hcidump --raw"
	DefaultBroker      = "tcp://localhost:1883"
	DefaultTopic       = "/ruuvi"
	DiscoverBroker     = "discover"
)

type FilterMode string

const (
	FilterNone      FilterMode = "none"
	FilterBlacklist FilterMode = "blacklist"
	FilterWhitelist FilterMode = "whitelist"
	FilterNamed     FilterMode = "named"
)

// Strategy names accepted by limiting.strategy and tags.<MAC>.strategy.
type Strategy string

const (
	StrategyDefault                      Strategy = "default"
	StrategyOnMovement                   Strategy = "onMovement"
	StrategyDefaultWithMotionSensitivity Strategy = "defaultWithMotionSensitivity"
)

type RestartPolicy string

const (
	RestartOnIdle RestartPolicy = "idle"
	RestartOnExit RestartPolicy = "exit"
)

type SinkMethod string

const (
	SinkMQTT SinkMethod = "mqtt"
	SinkNATS SinkMethod = "nats"
	SinkLog  SinkMethod = "log"
)

// ValidationError reports a configuration value that cannot be used.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Key, e.Reason)
}

// Config is an immutable snapshot of the settings. Build it with Load.
type Config struct {
	Scan     Scan                     `yaml:"scan"`
	Filter   Filter                   `yaml:"filter"`
	Names    map[ble.Address]string   `yaml:"names,omitempty"`
	Limiting Limiting                 `yaml:"limiting"`
	Tags     map[ble.Address]TagLimit `yaml:"tags,omitempty"`
	Sink     SinkMethod               `yaml:"sink"`
	MQTT     MQTT                     `yaml:"mqtt"`
	NATS     NATS                     `yaml:"nats"`
	Metrics  Metrics                  `yaml:"metrics"`
}

type Scan struct {
	ScanCommand     []string      `yaml:"scan_command,flow"`
	DumpCommand     []string      `yaml:"dump_command,flow"`
	RestartPolicy   RestartPolicy `yaml:"restart_policy"`
	RestartIfNoData time.Duration `yaml:"restart_if_no_data"`
	RestartDelay    time.Duration `yaml:"restart_delay"`
	MonitorInterval time.Duration `yaml:"monitor_interval"`
}

type Filter struct {
	Mode FilterMode    `yaml:"mode"`
	MACs []ble.Address `yaml:"macs,omitempty,flow"`

	set map[ble.Address]struct{}
}

type Limiting struct {
	Strategy        Strategy      `yaml:"strategy"`
	Interval        time.Duration `yaml:"interval"`
	MotionThreshold float64       `yaml:"motion_threshold"`
	MotionWindow    int           `yaml:"motion_window"`
}

// TagLimit overrides Limiting for one device. Zero values inherit.
type TagLimit struct {
	Strategy Strategy      `yaml:"strategy,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
}

type MQTT struct {
	Brokers  []string `yaml:"brokers,flow"`
	ClientID string   `yaml:"client_id"`
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
	Topic    string   `yaml:"topic"`
	QoS      byte     `yaml:"qos"`
	Retain   bool     `yaml:"retain"`
}

type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type Metrics struct {
	Listen string `yaml:"listen,omitempty"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("command.scan", DefaultScanCommand)
	v.SetDefault("command.dump", DefaultDumpCommand)
	v.SetDefault("scan.restart_policy", string(RestartOnIdle))
	v.SetDefault("scan.restart_if_no_data", 60*time.Second)
	v.SetDefault("scan.restart_delay", 5*time.Second)
	v.SetDefault("scan.monitor_interval", 5*time.Second)
	v.SetDefault("filter.mode", string(FilterNone))
	v.SetDefault("filter.macs", []string{})
	v.SetDefault("limiting.strategy", string(StrategyDefault))
	v.SetDefault("limiting.interval", 9900*time.Millisecond)
	v.SetDefault("limiting.motion.threshold", 0.05)
	v.SetDefault("limiting.motion.window", 3)
	v.SetDefault("sink.method", string(SinkMQTT))
	v.SetDefault("mqtt.brokers", []string{DefaultBroker})
	v.SetDefault("mqtt.topic", DefaultTopic)
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject", "ruuvi")
	v.SetDefault("metrics.listen", "")
}

// NewViper returns a viper instance with defaults, RUUVI_ environment
// overrides and the configuration file read in. An explicit file must
// exist; otherwise a missing file in the search path is not an error.
func NewViper(file string, home string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(Name)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/" + Name)
		if home != "" {
			v.AddConfigPath(home + "/.config/" + Name)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading configuration: %w", err)
		}
	}
	return v, nil
}

// Load builds and validates a Config from v.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		Scan: Scan{
			ScanCommand:     strings.Fields(v.GetString("command.scan")),
			DumpCommand:     strings.Fields(v.GetString("command.dump")),
			RestartPolicy:   RestartPolicy(v.GetString("scan.restart_policy")),
			RestartIfNoData: v.GetDuration("scan.restart_if_no_data"),
			RestartDelay:    v.GetDuration("scan.restart_delay"),
			MonitorInterval: v.GetDuration("scan.monitor_interval"),
		},
		Filter: Filter{
			Mode: FilterMode(v.GetString("filter.mode")),
		},
		Limiting: Limiting{
			Strategy:        Strategy(v.GetString("limiting.strategy")),
			Interval:        v.GetDuration("limiting.interval"),
			MotionThreshold: v.GetFloat64("limiting.motion.threshold"),
			MotionWindow:    v.GetInt("limiting.motion.window"),
		},
		Sink: SinkMethod(v.GetString("sink.method")),
		MQTT: MQTT{
			Brokers:  v.GetStringSlice("mqtt.brokers"),
			ClientID: v.GetString("mqtt.client_id"),
			Username: v.GetString("mqtt.username"),
			Password: v.GetString("mqtt.password"),
			Topic:    v.GetString("mqtt.topic"),
			QoS:      byte(v.GetUint("mqtt.qos")),
			Retain:   v.GetBool("mqtt.retain"),
		},
		NATS: NATS{
			URL:     v.GetString("nats.url"),
			Subject: v.GetString("nats.subject"),
		},
		Metrics: Metrics{
			Listen: v.GetString("metrics.listen"),
		},
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = uuid.NewString()
	}

	macs, err := parseMACs(v.GetStringSlice("filter.macs"))
	if err != nil {
		return nil, err
	}
	c.Filter.MACs = macs
	c.Filter.set = make(map[ble.Address]struct{}, len(macs))
	for _, a := range macs {
		c.Filter.set[a] = struct{}{}
	}

	c.Names = make(map[ble.Address]string)
	for k, name := range v.GetStringMapString("names") {
		a, err := ble.ParseAddress(k)
		if err != nil {
			return nil, &ValidationError{Key: "names." + k, Reason: err.Error()}
		}
		c.Names[a] = name
	}

	c.Tags = make(map[ble.Address]TagLimit)
	for k := range v.GetStringMap("tags") {
		a, err := ble.ParseAddress(k)
		if err != nil {
			return nil, &ValidationError{Key: "tags." + k, Reason: err.Error()}
		}
		c.Tags[a] = TagLimit{
			Strategy: Strategy(v.GetString("tags." + k + ".strategy")),
			Interval: v.GetDuration("tags." + k + ".interval"),
		}
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// parseMACs keeps the 12-character form the original properties file
// used, and also accepts separated addresses.
func parseMACs(in []string) ([]ble.Address, error) {
	var out []ble.Address
	for _, s := range in {
		for _, f := range strings.Split(s, ",") {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			a, err := ble.ParseAddress(f)
			if err != nil {
				return nil, &ValidationError{Key: "filter.macs", Reason: err.Error()}
			}
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (c *Config) validate() error {
	if len(c.Scan.DumpCommand) == 0 {
		return &ValidationError{Key: "command.dump", Reason: "must not be empty"}
	}
	switch c.Scan.RestartPolicy {
	case RestartOnIdle, RestartOnExit:
	default:
		return &ValidationError{Key: "scan.restart_policy", Reason: fmt.Sprintf("unknown policy %q", c.Scan.RestartPolicy)}
	}
	if c.Scan.MonitorInterval <= 0 {
		return &ValidationError{Key: "scan.monitor_interval", Reason: "must be positive"}
	}
	if c.Scan.RestartDelay < 0 {
		return &ValidationError{Key: "scan.restart_delay", Reason: "must not be negative"}
	}

	switch c.Filter.Mode {
	case FilterNone, FilterBlacklist, FilterWhitelist:
	case FilterNamed:
		if len(c.Names) == 0 {
			return &ValidationError{Key: "filter.mode", Reason: "named mode requires at least one entry in names"}
		}
	default:
		return &ValidationError{Key: "filter.mode", Reason: fmt.Sprintf("unknown mode %q", c.Filter.Mode)}
	}

	if !c.Limiting.Strategy.valid() {
		return &ValidationError{Key: "limiting.strategy", Reason: fmt.Sprintf("unknown strategy %q", c.Limiting.Strategy)}
	}
	if c.Limiting.Interval < 0 {
		return &ValidationError{Key: "limiting.interval", Reason: "must not be negative"}
	}
	if c.Limiting.MotionWindow < 1 {
		return &ValidationError{Key: "limiting.motion.window", Reason: "must be at least 1"}
	}
	for a, t := range c.Tags {
		if t.Strategy != "" && !t.Strategy.valid() {
			return &ValidationError{Key: "tags." + string(a) + ".strategy", Reason: fmt.Sprintf("unknown strategy %q", t.Strategy)}
		}
	}

	switch c.Sink {
	case SinkMQTT:
		if len(c.MQTT.Brokers) == 0 {
			return &ValidationError{Key: "mqtt.brokers", Reason: "must not be empty"}
		}
		if c.MQTT.QoS > 2 {
			return &ValidationError{Key: "mqtt.qos", Reason: "must be 0, 1 or 2"}
		}
	case SinkNATS:
		if c.NATS.URL == "" || c.NATS.Subject == "" {
			return &ValidationError{Key: "nats", Reason: "url and subject are required"}
		}
	case SinkLog:
	default:
		return &ValidationError{Key: "sink.method", Reason: fmt.Sprintf("unknown method %q", c.Sink)}
	}
	return nil
}

func (s Strategy) valid() bool {
	switch s {
	case StrategyDefault, StrategyOnMovement, StrategyDefaultWithMotionSensitivity:
		return true
	}
	return false
}

// IsAllowedMAC applies the address filter.
func (c *Config) IsAllowedMAC(a ble.Address) bool {
	switch c.Filter.Mode {
	case FilterBlacklist:
		_, listed := c.Filter.set[a]
		return !listed
	case FilterWhitelist:
		_, listed := c.Filter.set[a]
		return listed
	case FilterNamed:
		_, named := c.Names[a]
		return named
	default:
		return true
	}
}

// UpdateInterval returns the minimum time between two measurements
// forwarded for a.
func (c *Config) UpdateInterval(a ble.Address) time.Duration {
	if t, ok := c.Tags[a]; ok && t.Interval > 0 {
		return t.Interval
	}
	return c.Limiting.Interval
}

// RateLimitStrategy returns the admission rule for a.
func (c *Config) RateLimitStrategy(a ble.Address) ratelimit.Strategy {
	s := c.Limiting.Strategy
	if t, ok := c.Tags[a]; ok && t.Strategy != "" {
		s = t.Strategy
	}
	interval := c.UpdateInterval(a)
	if s == StrategyDefault {
		return ratelimit.TimeElapsed(interval)
	}
	return ratelimit.MotionSensitive(interval, c.Limiting.MotionThreshold, c.Limiting.MotionWindow)
}

// DisplayName returns the configured name of a, or "" when unnamed.
func (c *Config) DisplayName(a ble.Address) string {
	return c.Names[a]
}

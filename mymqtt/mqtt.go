// Package mymqtt publishes measurements to an MQTT broker.
package mymqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"
	"github.com/grandcat/zeroconf"

	"github.com/asnowfix/ruuvi-collector/internal/mynet"
	"github.com/asnowfix/ruuvi-collector/internal/sink"
	"github.com/asnowfix/ruuvi-collector/pkg/ruuvi"
)

const ZEROCONF_SERVICE = "_mqtt._tcp."
const PRIVATE_PORT = 1883

// DISCOVER in the broker list triggers a zeroconf lookup.
const DISCOVER = "discover"

const ZEROCONF_TIMEOUT = 5 * time.Second

const CONNECT_TIMEOUT = 10 * time.Second

type Options struct {
	Brokers  []string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Retain   bool
}

// Publisher sends every measurement as JSON to <topic>/<name>, or to
// <topic> for unnamed tags. It connects on first use; a measurement that
// arrives while the broker is unreachable is dropped.
type Publisher struct {
	log    logr.Logger
	opts   Options
	client mqtt.Client

	mu sync.Mutex
}

// NewPublisher resolves the brokers and prepares the client. names is
// only used to log the topics that will be used.
func NewPublisher(log logr.Logger, opts Options, names []string) (*Publisher, error) {
	servers, err := resolveBrokers(log, opts.Brokers)
	if err != nil {
		return nil, err
	}

	co := mqtt.NewClientOptions()
	for _, s := range servers {
		co.AddBroker(s.String())
	}
	co.SetClientID(opts.ClientID)
	co.SetUsername(opts.Username)
	co.SetPassword(opts.Password)
	co.SetAutoReconnect(true)
	co.SetConnectTimeout(CONNECT_TIMEOUT)
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Info("MQTT connection lost", "error", err)
	})
	co.SetOnConnectHandler(func(_ mqtt.Client) {
		log.Info("MQTT client connected", "client_id", opts.ClientID)
	})

	log.Info("Initializing MQTT client", "client_id", opts.ClientID, "brokers", servers)
	if len(names) == 0 {
		log.Info("Publishing", "topic", opts.Topic)
	}
	for _, n := range names {
		log.Info("Publishing", "topic", resolveTopic(opts.Topic, n))
	}
	return newPublisher(log, opts, mqtt.NewClient(co)), nil
}

func newPublisher(log logr.Logger, opts Options, client mqtt.Client) *Publisher {
	return &Publisher{log: log, opts: opts, client: client}
}

func resolveTopic(topic string, name string) string {
	if strings.TrimSpace(name) == "" {
		return topic
	}
	return topic + "/" + name
}

func (p *Publisher) Publish(ctx context.Context, m *ruuvi.Enhanced) error {
	topic := resolveTopic(p.opts.Topic, m.Name)
	if err := p.connect(ctx); err != nil {
		return &sink.PublishError{Address: m.Address, Destination: topic, Err: err}
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return &sink.PublishError{Address: m.Address, Destination: topic, Err: err}
	}
	token := p.client.Publish(topic, p.opts.QoS, p.opts.Retain, payload)
	if !token.WaitTimeout(CONNECT_TIMEOUT) {
		return &sink.PublishError{Address: m.Address, Destination: topic, Err: fmt.Errorf("timeout after %v", CONNECT_TIMEOUT)}
	}
	if err := token.Error(); err != nil {
		return &sink.PublishError{Address: m.Address, Destination: topic, Err: err}
	}
	p.log.V(1).Info("Published", "topic", topic, "payload", string(payload))
	return nil
}

// connect retries with exponential backoff for at most CONNECT_TIMEOUT.
func (p *Publisher) connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client.IsConnected() {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = CONNECT_TIMEOUT
	return backoff.Retry(func() error {
		token := p.client.Connect()
		if !token.WaitTimeout(CONNECT_TIMEOUT) {
			return fmt.Errorf("MQTT connect timeout")
		}
		if err := token.Error(); err != nil {
			p.log.Info("MQTT client failed to connect", "client_id", p.opts.ClientID, "error", err)
			return err
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

func (p *Publisher) Close() error {
	if p.client.IsConnected() {
		p.client.Disconnect(250 /* milliseconds */)
	}
	return nil
}

func resolveBrokers(log logr.Logger, brokers []string) ([]*url.URL, error) {
	var servers []*url.URL
	for _, b := range brokers {
		if b == DISCOVER {
			u, err := lookupBrokerViaZeroConf(log, ZEROCONF_TIMEOUT)
			if err != nil {
				log.Error(err, "Zeroconf lookup failed", "service", ZEROCONF_SERVICE)
				return nil, err
			}
			servers = append(servers, u)
			continue
		}
		u, err := parseBroker(b)
		if err != nil {
			return nil, err
		}
		servers = append(servers, u)
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no MQTT broker configured")
	}
	return servers, nil
}

// parseBroker accepts full URLs (tcp://host:1883, ssl://..., ws://...)
// as well as bare host[:port].
func parseBroker(b string) (*url.URL, error) {
	if strings.Contains(b, "://") {
		u, err := url.Parse(b)
		if err != nil {
			return nil, fmt.Errorf("invalid MQTT broker %q: %w", b, err)
		}
		return u, nil
	}

	host, port := b, PRIVATE_PORT
	if h, p, err := net.SplitHostPort(b); err == nil {
		host = h
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid MQTT broker port in %q: %w", b, err)
		}
	}
	if host == "" {
		return nil, fmt.Errorf("invalid MQTT broker %q", b)
	}
	return &url.URL{
		Scheme: "tcp",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
	}, nil
}

func lookupBrokerViaZeroConf(log logr.Logger, timeout time.Duration) (*url.URL, error) {
	var opts []zeroconf.ClientOption
	if ifaces, err := mynet.Interfaces(log); err == nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}
	resolver, err := zeroconf.NewResolver(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize zeroconf resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var mu sync.Mutex
	brokers := make([]*url.URL, 0)

	go func() {
		for entry := range entries {
			// Filter-out spurious candidates
			if !strings.Contains(entry.Service, ZEROCONF_SERVICE) {
				continue
			}
			log.Info("Found MQTT broker", "addresses", entry.AddrIPv4, "port", entry.Port)
			mu.Lock()
			for _, ip := range entry.AddrIPv4 {
				brokers = append(brokers, &url.URL{
					Scheme: "tcp",
					Host:   net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)),
				})
			}
			mu.Unlock()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := resolver.Browse(ctx, ZEROCONF_SERVICE, "local.", entries); err != nil {
		return nil, fmt.Errorf("failed to browse %s: %w", ZEROCONF_SERVICE, err)
	}

	// wait for the lookup to complete
	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	log.Info("Using MQTT", "brokers", brokers, "service", ZEROCONF_SERVICE)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no MQTT broker found")
	}
	return brokers[0], nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"peerage/nid"
)

var log = logrus.New()

// Duration wraps time.Duration so it reads naturally from JSON ("30s", "5m").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	}
	return fmt.Errorf("invalid duration: %s", string(data))
}

// Config represents the configuration of a peerage node
type Config struct {
	// Default config file location
	configFile string

	Node struct {
		NodeID *nid.ID `json:"id"`
	} `json:"node"`

	Network struct {
		RPCListenAddress       string `json:"rpc_listen"`
		RpcAdvertisedAddress   string `json:"rpc_advertised,omitempty"`
		PubSubMulticastAddress string `json:"pubsub_multicast"`
	} `json:"network"`

	Swarm struct {
		MaxSimultaneousPeers int      `json:"max_simultaneous_peers"`
		PeerRefreshInterval  Duration `json:"peer_refresh_interval"`
		AnnounceInterval     Duration `json:"announce_interval"`
		SyncInterval         Duration `json:"sync_interval"`
		RequestTimeout       Duration `json:"request_timeout"`
		SyncBatchSize        uint64   `json:"sync_batch_size"`
	} `json:"swarm"`

	DataStore struct {
		PeerIndexPath string `json:"peers"`
	} `json:"datastore"`
}

// NewEmptyConfig generates a new configuration with default settings
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Network.RPCListenAddress = ":7370"
	cfg.Network.PubSubMulticastAddress = "239.73.70.1:7371"

	cfg.Swarm.MaxSimultaneousPeers = 3
	cfg.Swarm.PeerRefreshInterval = Duration{90 * time.Second}
	cfg.Swarm.AnnounceInterval = Duration{30 * time.Second}
	cfg.Swarm.SyncInterval = Duration{15 * time.Second}
	cfg.Swarm.RequestTimeout = Duration{10 * time.Second}
	cfg.Swarm.SyncBatchSize = 64

	cfg.DataStore.PeerIndexPath = "/var/lib/peerage/peers"

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	// We'll marshall our structure to JSON and write it into a file
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	return nil
}

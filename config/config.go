// Package config loads node configuration and builds the genesis block.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tolelom/hilochain/game"
)

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID string            `json:"chain_id"`
	Alloc   map[string]uint64 `json:"alloc"` // pubkey hex → initial balance
	// Capabilities seeds the capability table, e.g. the first admin and
	// the operators that write membership and inventory grants.
	Capabilities map[string][]string `json:"capabilities"`
}

// Config holds all node configuration.
type Config struct {
	NodeID          string        `json:"node_id"`
	DataDir         string        `json:"data_dir"`
	RPCPort         int           `json:"rpc_port"`
	RPCAuthToken    string        `json:"rpc_auth_token"` // empty → no auth
	MaxBlockTxs     int           `json:"max_block_txs"`  // max transactions per block; 0 → 500
	BlockIntervalMS int           `json:"block_interval_ms"`
	Validators      []string      `json:"validators"` // authorised proposer pubkey hexes
	LogLevel        string        `json:"log_level"`
	NATSURL         string        `json:"nats_url"` // empty → events stay in-process
	NATSSubject     string        `json:"nats_subject"`
	Game            game.Params   `json:"game"`
	Genesis         GenesisConfig `json:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:          "node0",
		DataDir:         "./data",
		RPCPort:         8545,
		MaxBlockTxs:     500,
		BlockIntervalMS: 2000,
		LogLevel:        "info",
		Game:            game.DefaultParams(),
		Genesis: GenesisConfig{
			ChainID:      "hilochain-dev",
			Alloc:        map[string]uint64{},
			Capabilities: map[string][]string{},
		},
	}
}

// BlockInterval returns the block production interval.
func (c *Config) BlockInterval() time.Duration {
	if c.BlockIntervalMS <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.BlockIntervalMS) * time.Millisecond
}

// Validate rejects configurations the node cannot start with.
func (c *Config) Validate() error {
	if c.Genesis.ChainID == "" {
		return errors.New("genesis.chain_id is required")
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.RPCPort < 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port %d out of range", c.RPCPort)
	}
	if err := c.Game.Validate(); err != nil {
		return fmt.Errorf("game: %w", err)
	}
	return nil
}

// Load reads a JSON config file from path. Fields absent from the file keep
// their DefaultConfig values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

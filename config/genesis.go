package config

import (
	"fmt"
	"strings"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/crypto"
)

// GenesisHash is the all-zeros prev hash carried by block 0.
var GenesisHash = strings.Repeat("0", 64)

// IsGenesisHash reports whether h is GenesisHash.
func IsGenesisHash(h string) bool { return h == GenesisHash }

// CreateGenesisBlock writes the genesis balances and capability table to
// state, commits it, and returns block 0 signed by proposerPriv.
func CreateGenesisBlock(cfg *Config, state core.State, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	for addr, balance := range cfg.Genesis.Alloc {
		if err := state.SetAccount(&core.Account{Address: addr, Balance: balance}); err != nil {
			return nil, fmt.Errorf("alloc %s: %w", addr, err)
		}
	}
	for addr, caps := range cfg.Genesis.Capabilities {
		if err := state.SetCapabilities(addr, caps); err != nil {
			return nil, fmt.Errorf("capabilities %s: %w", addr, err)
		}
	}
	root := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, fmt.Errorf("commit genesis state: %w", err)
	}

	block := core.NewBlock(0, GenesisHash, proposerPriv.Public().Hex(), core.DeriveBeacon(nil, 0), nil)
	block.Header.StateRoot = root
	// Distinct chain ids get distinct genesis hashes.
	block.Header.TxRoot = crypto.Hash([]byte(cfg.Genesis.ChainID))
	block.Sign(proposerPriv)
	return block, nil
}

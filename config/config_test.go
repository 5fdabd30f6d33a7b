package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/crypto"
	"github.com/tolelom/hilochain/internal/testutil"
)

func TestLoadKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"node_id":"n1","game":{"battle_rounds":5,"max_batch_size":4,"battle_turn_timeout":60000000000,"battle_match_timeout":600000000000}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NodeID != "n1" || cfg.RPCPort != 8545 {
		t.Errorf("config: node %q port %d", cfg.NodeID, cfg.RPCPort)
	}
	if cfg.Game.BattleRounds != 5 || cfg.Game.DailyFreeGuesses != 100 {
		t.Errorf("game params: %+v", cfg.Game)
	}
	if cfg.Game.BattleTurnTimeout != time.Minute {
		t.Errorf("turn timeout: got %v want 1m", cfg.Game.BattleTurnTimeout)
	}
}

func TestLoadRejectsBadGame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"game":{"battle_rounds":0}}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for zero battle rounds")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	cfg.NATSURL = "nats://127.0.0.1:4222"
	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.NATSURL != cfg.NATSURL || got.BlockInterval() != 2*time.Second {
		t.Errorf("reloaded: %+v", got)
	}
}

func TestGenesis(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Genesis.Alloc[pub.Hex()] = 500
	cfg.Genesis.Capabilities[pub.Hex()] = []string{"admin"}

	state := testutil.NewStateDB()
	block, err := CreateGenesisBlock(cfg, state, priv)
	if err != nil {
		t.Fatal(err)
	}
	if block.Header.Height != 0 || !IsGenesisHash(block.Header.PrevHash) {
		t.Errorf("header: %+v", block.Header)
	}
	if block.Header.Beacon != core.DeriveBeacon(nil, 0) {
		t.Error("genesis beacon not derived")
	}
	if err := block.Verify(pub); err != nil {
		t.Errorf("signature: %v", err)
	}
	acc, _ := state.GetAccount(pub.Hex())
	if acc.Balance != 500 {
		t.Errorf("alloc: got %d want 500", acc.Balance)
	}
	caps, _ := state.GetCapabilities(pub.Hex())
	if len(caps) != 1 || caps[0] != "admin" {
		t.Errorf("capabilities: got %v", caps)
	}
}

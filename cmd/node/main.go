// Command node starts a hilochain validator node.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/tolelom/hilochain/config"
	"github.com/tolelom/hilochain/consensus"
	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/events"
	"github.com/tolelom/hilochain/events/natsbridge"
	"github.com/tolelom/hilochain/indexer"
	"github.com/tolelom/hilochain/internal/logger"
	"github.com/tolelom/hilochain/rpc"
	"github.com/tolelom/hilochain/storage"
	"github.com/tolelom/hilochain/vm"
	"github.com/tolelom/hilochain/wallet"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/hilochain/vm/modules/battle"
	_ "github.com/tolelom/hilochain/vm/modules/economy"
	_ "github.com/tolelom/hilochain/vm/modules/leaderboard"
	_ "github.com/tolelom/hilochain/vm/modules/session"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "validator.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new validator key and exit")
	flag.Parse()

	// ---- load config ----
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel)
	log := logger.For("node")

	// Read keystore password from the environment; CLI flags leak via ps.
	password, err := wallet.PasswordFromEnv()
	if err != nil {
		log.Warn("keystore will use an empty password", "err", err)
	}

	// ---- generate key mode ----
	if *genKey {
		w, err := wallet.Generate(cfg.Genesis.ChainID)
		if err != nil {
			fatal(log, "generate key", err)
		}
		if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
			fatal(log, "save key", err)
		}
		fmt.Printf("Generated key. Public key (validator address): %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	// ---- load validator key ----
	privKey, created, err := wallet.LoadOrCreate(*keyPath, password)
	if err != nil {
		fatal(log, "load key", err)
	}
	if created {
		log.Info("generated validator key", "path", *keyPath, "pubkey", privKey.Public().Hex())
	}
	if len(cfg.Validators) == 0 {
		// Single-node development chain.
		cfg.Validators = []string{privKey.Public().Hex()}
	}

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		fatal(log, "mkdir data dir", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		fatal(log, "open db", err)
	}
	defer db.Close()

	// State and blocks share one DB under different key prefixes.
	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	if err := bc.Init(); err != nil {
		fatal(log, "blockchain init", err)
	}

	// ---- genesis block (if fresh chain) ----
	if bc.Tip() == nil {
		genesisBlock, err := config.CreateGenesisBlock(cfg, state, privKey)
		if err != nil {
			fatal(log, "genesis", err)
		}
		if err := bc.AddBlock(genesisBlock); err != nil {
			fatal(log, "add genesis", err)
		}
		log.Info("genesis block committed", "hash", genesisBlock.Hash)
	}

	// ---- events ----
	emitter := events.NewEmitter()
	if cfg.NATSURL != "" {
		bridge, err := natsbridge.Connect(natsbridge.Options{
			URL:           cfg.NATSURL,
			SubjectPrefix: cfg.NATSSubject,
			Name:          cfg.NodeID,
		})
		if err != nil {
			fatal(log, "nats connect", err)
		}
		defer bridge.Close()
		bridge.Attach(emitter)
		log.Info("publishing events to nats", "url", cfg.NATSURL, "subject", bridge.Subject("*"))
	}

	idx := indexer.New(db, emitter)
	mempool := core.NewMempool(cfg.Genesis.ChainID)
	exec := vm.NewExecutor(state, emitter, vm.WithParams(cfg.Game))
	poa := consensus.New(cfg, bc, state, mempool, exec, emitter, privKey)

	// ---- RPC ----
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(bc, mempool, state, idx, cfg.Genesis.ChainID, poa.ReadLocker())
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken)
	if err := rpcServer.Start(); err != nil {
		fatal(log, "rpc start", err)
	}
	defer rpcServer.Stop()
	log.Info("rpc listening", "addr", rpcServer.Addr(), "auth", cfg.RPCAuthToken != "")

	// ---- consensus loop ----
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		poa.Run(cfg.BlockInterval(), done)
	}()
	log.Info("consensus running", "validator", privKey.Public().Hex(), "interval", cfg.BlockInterval())

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	// 1. Stop consensus first (no new blocks written)
	close(done)
	wg.Wait()

	// 2. Deferred calls run in LIFO: rpcServer.Stop → bridge.Close → db.Close
	log.Info("shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "config file not found at %s, using defaults\n", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "err", err)
	os.Exit(1)
}

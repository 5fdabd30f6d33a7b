package storage_test

import (
	"errors"
	"testing"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/internal/testutil"
	"github.com/tolelom/hilochain/storage"
)

func TestZeroRecords(t *testing.T) {
	s := testutil.NewStateDB()
	p, err := s.GetPlayer("alice")
	if err != nil {
		t.Fatal(err)
	}
	if p.Address != "alice" || p.InSession {
		t.Errorf("zero player: %+v", p)
	}
	if _, err := s.GetBattle(1); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown battle: got %v want ErrNotFound", err)
	}
	if id, err := s.GetOpenBattle("alice"); err != nil || id != 0 {
		t.Errorf("open battle: got %d, %v", id, err)
	}
	if caps, err := s.GetCapabilities("alice"); err != nil || caps != nil {
		t.Errorf("capabilities: got %v, %v", caps, err)
	}
	if _, ok, err := s.GetCurrentWeek(); err != nil || ok {
		t.Errorf("current week: got %v, %v", ok, err)
	}
}

func TestPlayerRegistry(t *testing.T) {
	s := testutil.NewStateDB()
	for _, a := range []string{"a", "b", "a", "c"} {
		if _, err := s.RegisterPlayer(a); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.PlayerCount()
	if err != nil || n != 3 {
		t.Fatalf("count: got %d, %v want 3", n, err)
	}
	for i, want := range []string{"a", "b", "c"} {
		got, err := s.PlayerAt(uint64(i))
		if err != nil || got != want {
			t.Errorf("index %d: got %q, %v want %q", i, got, err, want)
		}
	}
}

func TestBattleIDs(t *testing.T) {
	s := testutil.NewStateDB()
	for want := uint64(1); want <= 3; want++ {
		id, err := s.NextBattleID()
		if err != nil || id != want {
			t.Errorf("id: got %d, %v want %d", id, err, want)
		}
	}
}

func TestSnapshotRevert(t *testing.T) {
	s := testutil.NewStateDB()
	if err := s.SetAccount(&core.Account{Address: "a", Balance: 10}); err != nil {
		t.Fatal(err)
	}
	root := s.ComputeRoot()
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetAccount(&core.Account{Address: "a", Balance: 99}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTeamOf("a", "red"); err != nil {
		t.Fatal(err)
	}
	if s.ComputeRoot() == root {
		t.Error("root unchanged after writes")
	}
	if err := s.RevertToSnapshot(snap); err != nil {
		t.Fatal(err)
	}
	acc, _ := s.GetAccount("a")
	if acc.Balance != 10 {
		t.Errorf("balance after revert: got %d want 10", acc.Balance)
	}
	if n, _ := s.TeamCount(); n != 0 {
		t.Errorf("team count after revert: got %d want 0", n)
	}
	if s.ComputeRoot() != root {
		t.Error("root differs after revert")
	}
}

func TestCommitPreservesRoot(t *testing.T) {
	db := testutil.NewMemDB()
	s := storage.NewStateDB(db)
	if err := s.SetWeeklyScore(3, "a", 42); err != nil {
		t.Fatal(err)
	}
	root := s.ComputeRoot()
	if err := s.Commit(); err != nil {
		t.Fatal(err)
	}
	if got := s.ComputeRoot(); got != root {
		t.Errorf("root after commit: got %s want %s", got, root)
	}
	reopened := storage.NewStateDB(db)
	if score, _ := reopened.GetWeeklyScore(3, "a"); score != 42 {
		t.Errorf("persisted score: got %d want 42", score)
	}
	if reopened.ComputeRoot() != root {
		t.Error("reopened state has a different root")
	}
}

func TestLevelDBBlockStore(t *testing.T) {
	db, err := storage.NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	bs := storage.NewBlockStore(db)
	if tip, err := bs.GetTip(); err != nil || tip != "" {
		t.Fatalf("empty tip: got %q, %v", tip, err)
	}
	b := core.NewBlock(1, "", "proposer", core.DeriveBeacon(nil, 1), nil)
	b.Hash = b.ComputeHash()
	if err := bs.CommitBlock(b); err != nil {
		t.Fatal(err)
	}
	got, err := bs.GetBlockByHeight(1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hash != b.Hash || got.Header.Beacon != b.Header.Beacon {
		t.Errorf("block: got %+v", got.Header)
	}
	if tip, _ := bs.GetTip(); tip != b.Hash {
		t.Errorf("tip: got %q want %q", tip, b.Hash)
	}
	if _, err := bs.GetBlock("missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("missing block: got %v", err)
	}
}

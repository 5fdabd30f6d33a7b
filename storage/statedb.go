package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/tolelom/hilochain/core"
	"github.com/tolelom/hilochain/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it.  All prefix constants must be declared
// via this function; manually editing statePrefixes is not required.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
// ComputeRoot() iterates these prefixes to build the full world-state view.
var statePrefixes []string

var (
	prefixAccount     = registerPrefix("acct:")
	prefixPlayer      = registerPrefix("player:")
	prefixAchievement = registerPrefix("ach:")
	prefixRate        = registerPrefix("rate:")
	prefixRegistry    = registerPrefix("preg:")
	prefixBattle      = registerPrefix("battle:")
	prefixOpenBattle  = registerPrefix("bopen:")
	prefixMatchPool   = registerPrefix("mpool:")
	prefixWeek        = registerPrefix("week:")
	prefixWeekScore   = registerPrefix("wscore:")
	prefixMembership  = registerPrefix("member:")
	prefixBoost       = registerPrefix("boost:")
	prefixInventory   = registerPrefix("inv:")
	prefixBatchCap    = registerPrefix("batch:")
	prefixTeamOf      = registerPrefix("teamof:")
	prefixTeam        = registerPrefix("team:")
	prefixCapability  = registerPrefix("cap:")
	prefixCounter     = registerPrefix("ctr:")
)

const (
	keyBattleCounter = "ctr:battle"
	keyCurrentWeek   = "week:current"
	keyMatchPool     = "mpool:members"
	keyPlayerCount   = "preg:count"
	keyTeamCount     = "team:count"
)

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

// getJSON decodes the value at key into a fresh T. found is false when the
// key is absent; any other read error is returned as is.
func getJSON[T any](s *StateDB, key string) (v *T, found bool, err error) {
	data, err := s.get(key)
	if errors.Is(err, core.ErrNotFound) {
		return new(T), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v = new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, true, nil
}

func putJSON(s *StateDB, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

func (s *StateDB) getUint(key string) (uint64, error) {
	data, err := s.get(key)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(data), 10, 64)
}

func (s *StateDB) setUint(key string, n uint64) {
	s.set(key, []byte(strconv.FormatUint(n, 10)))
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	acc, _, err := getJSON[core.Account](s, prefixAccount+address)
	if err != nil {
		return nil, err
	}
	acc.Address = address
	return acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return putJSON(s, prefixAccount+acc.Address, acc)
}

// ---- Single-player records ----

func (s *StateDB) GetPlayer(address string) (*core.PlayerSession, error) {
	p, _, err := getJSON[core.PlayerSession](s, prefixPlayer+address)
	if err != nil {
		return nil, err
	}
	p.Address = address
	return p, nil
}

func (s *StateDB) SetPlayer(p *core.PlayerSession) error {
	return putJSON(s, prefixPlayer+p.Address, p)
}

func (s *StateDB) GetAchievements(address string) (*core.AchievementState, error) {
	a, _, err := getJSON[core.AchievementState](s, prefixAchievement+address)
	if err != nil {
		return nil, err
	}
	a.Address = address
	return a, nil
}

func (s *StateDB) SetAchievements(a *core.AchievementState) error {
	return putJSON(s, prefixAchievement+a.Address, a)
}

func (s *StateDB) GetRateWindow(address string) (*core.RateWindow, error) {
	w, _, err := getJSON[core.RateWindow](s, prefixRate+address)
	if err != nil {
		return nil, err
	}
	w.Address = address
	return w, nil
}

func (s *StateDB) SetRateWindow(w *core.RateWindow) error {
	return putJSON(s, prefixRate+w.Address, w)
}

// ---- Player registry ----

// RegisterPlayer appends address to the dense index unless it is already
// present. It reports whether the address was newly added.
func (s *StateDB) RegisterPlayer(address string) (bool, error) {
	return s.register(prefixRegistry, keyPlayerCount, address)
}

func (s *StateDB) PlayerCount() (uint64, error) {
	return s.getUint(keyPlayerCount)
}

func (s *StateDB) PlayerAt(index uint64) (string, error) {
	return s.indexAt(prefixRegistry, index)
}

// register maintains an arena (prefix+"idx:"+n → value) plus a membership
// set (prefix+"has:"+value) and a count key.
func (s *StateDB) register(prefix, countKey, value string) (bool, error) {
	hasKey := prefix + "has:" + value
	if _, err := s.get(hasKey); err == nil {
		return false, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return false, err
	}
	n, err := s.getUint(countKey)
	if err != nil {
		return false, err
	}
	s.set(prefix+"idx:"+strconv.FormatUint(n, 10), []byte(value))
	s.set(hasKey, []byte{1})
	s.setUint(countKey, n+1)
	return true, nil
}

func (s *StateDB) indexAt(prefix string, index uint64) (string, error) {
	data, err := s.get(prefix + "idx:" + strconv.FormatUint(index, 10))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ---- Battles ----

// NextBattleID increments and returns the battle counter; ids start at 1.
func (s *StateDB) NextBattleID() (uint64, error) {
	n, err := s.getUint(keyBattleCounter)
	if err != nil {
		return 0, err
	}
	n++
	s.setUint(keyBattleCounter, n)
	return n, nil
}

func (s *StateDB) GetBattle(id uint64) (*core.Battle, error) {
	b, found, err := getJSON[core.Battle](s, battleKey(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, core.ErrNotFound
	}
	return b, nil
}

func (s *StateDB) SetBattle(b *core.Battle) error {
	return putJSON(s, battleKey(b.ID), b)
}

func battleKey(id uint64) string {
	return prefixBattle + strconv.FormatUint(id, 10)
}

func (s *StateDB) GetOpenBattle(address string) (uint64, error) {
	return s.getUint(prefixOpenBattle + address)
}

func (s *StateDB) SetOpenBattle(address string, id uint64) error {
	s.setUint(prefixOpenBattle+address, id)
	return nil
}

func (s *StateDB) GetMatchPool() (*core.MatchPool, error) {
	p, _, err := getJSON[core.MatchPool](s, keyMatchPool)
	return p, err
}

func (s *StateDB) SetMatchPool(p *core.MatchPool) error {
	return putJSON(s, keyMatchPool, p)
}

// ---- Weekly leaderboard ----

func (s *StateDB) GetCurrentWeek() (int64, bool, error) {
	data, err := s.get(keyCurrentWeek)
	if errors.Is(err, core.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	week, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, false, err
	}
	return week, true, nil
}

func (s *StateDB) SetCurrentWeek(week int64) error {
	s.set(keyCurrentWeek, []byte(strconv.FormatInt(week, 10)))
	return nil
}

func (s *StateDB) GetWeeklyEntry(week int64) (*core.WeeklyEntry, error) {
	e, found, err := getJSON[core.WeeklyEntry](s, prefixWeek+strconv.FormatInt(week, 10))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, core.ErrNotFound
	}
	return e, nil
}

func (s *StateDB) SetWeeklyEntry(e *core.WeeklyEntry) error {
	return putJSON(s, prefixWeek+strconv.FormatInt(e.Week, 10), e)
}

func (s *StateDB) GetWeeklyScore(week int64, address string) (uint64, error) {
	return s.getUint(weekScoreKey(week, address))
}

func (s *StateDB) SetWeeklyScore(week int64, address string, score uint64) error {
	s.setUint(weekScoreKey(week, address), score)
	return nil
}

func weekScoreKey(week int64, address string) string {
	return prefixWeekScore + strconv.FormatInt(week, 10) + ":" + address
}

// ---- Collaborator ledger ----

func (s *StateDB) GetMembership(address string) (*core.Membership, error) {
	m, _, err := getJSON[core.Membership](s, prefixMembership+address)
	if err != nil {
		return nil, err
	}
	m.Address = address
	return m, nil
}

func (s *StateDB) SetMembership(m *core.Membership) error {
	return putJSON(s, prefixMembership+m.Address, m)
}

func (s *StateDB) GetBoost(address string) (*core.Boost, error) {
	b, _, err := getJSON[core.Boost](s, prefixBoost+address)
	if err != nil {
		return nil, err
	}
	b.Address = address
	return b, nil
}

func (s *StateDB) SetBoost(b *core.Boost) error {
	return putJSON(s, prefixBoost+b.Address, b)
}

func (s *StateDB) GetInventory(address string) (*core.Inventory, error) {
	inv, _, err := getJSON[core.Inventory](s, prefixInventory+address)
	if err != nil {
		return nil, err
	}
	inv.Address = address
	if inv.Reactions == nil {
		inv.Reactions = map[string]uint64{}
	}
	return inv, nil
}

func (s *StateDB) SetInventory(inv *core.Inventory) error {
	return putJSON(s, prefixInventory+inv.Address, inv)
}

func (s *StateDB) GetBatchCapability(address string) (*core.BatchCapability, error) {
	c, _, err := getJSON[core.BatchCapability](s, prefixBatchCap+address)
	if err != nil {
		return nil, err
	}
	c.Address = address
	return c, nil
}

func (s *StateDB) SetBatchCapability(c *core.BatchCapability) error {
	return putJSON(s, prefixBatchCap+c.Address, c)
}

func (s *StateDB) GetTeamOf(address string) (string, error) {
	data, err := s.get(prefixTeamOf + address)
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SetTeamOf assigns address to teamID and registers the team on first use.
func (s *StateDB) SetTeamOf(address, teamID string) error {
	s.set(prefixTeamOf+address, []byte(teamID))
	_, err := s.register(prefixTeam, keyTeamCount, teamID)
	return err
}

func (s *StateDB) GetTeamScore(teamID string) (*core.TeamScore, error) {
	t, _, err := getJSON[core.TeamScore](s, prefixTeam+"score:"+teamID)
	if err != nil {
		return nil, err
	}
	t.ID = teamID
	return t, nil
}

func (s *StateDB) SetTeamScore(t *core.TeamScore) error {
	return putJSON(s, prefixTeam+"score:"+t.ID, t)
}

func (s *StateDB) TeamCount() (uint64, error) {
	return s.getUint(keyTeamCount)
}

func (s *StateDB) TeamAt(index uint64) (string, error) {
	return s.indexAt(prefixTeam, index)
}

// ---- Capability table ----

func (s *StateDB) GetCapabilities(address string) ([]string, error) {
	caps, _, err := getJSON[[]string](s, prefixCapability+address)
	if err != nil {
		return nil, err
	}
	return *caps, nil
}

func (s *StateDB) SetCapabilities(address string, caps []string) error {
	return putJSON(s, prefixCapability+address, caps)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   copyDirty(s.dirty),
		deleted: copyDeleted(s.deleted),
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so that subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]
	s.dirty = copyDirty(snap.dirty)
	s.deleted = copyDeleted(snap.deleted)
	s.snapshots = s.snapshots[:id]
	return nil
}

func copyDirty(src map[string][]byte) map[string][]byte {
	dst := make(map[string][]byte, len(src))
	for k, v := range src {
		cp := make([]byte, len(v))
		copy(cp, v)
		dst[k] = cp
	}
	return dst
}

func copyDeleted(src map[string]bool) map[string]bool {
	dst := make(map[string]bool, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// ComputeRoot returns the deterministic hash of the complete world state.
// It merges all persisted state entries (scanned from DB by the known state
// prefixes) with the current write buffer, then hashes the sorted key-value
// pairs using length-prefix encoding.  It does NOT flush or modify state,
// so it is safe to call before signing a block.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}
	for k, v := range s.dirty {
		merged[k] = v
	}
	for k := range s.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// Batch and then clears it. Call ComputeRoot() before signing the block,
// then call Commit() after the block is safely stored.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}

package vm

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tolelom/hilochain/core"
)

// Handler executes one transaction type. A returned error aborts the
// transaction and the executor rolls its writes back.
type Handler func(ctx *Context, payload json.RawMessage) error

// handlers is filled by module init functions through Register.
var handlers = struct {
	sync.RWMutex
	m map[core.TxType]Handler
}{m: make(map[core.TxType]Handler)}

// Register binds typ to h. Registering a type twice panics.
func Register(typ core.TxType, h Handler) {
	handlers.Lock()
	defer handlers.Unlock()
	if _, dup := handlers.m[typ]; dup {
		panic(fmt.Sprintf("vm: duplicate handler for %q", typ))
	}
	handlers.m[typ] = h
}

func dispatch(typ core.TxType, ctx *Context, payload json.RawMessage) error {
	handlers.RLock()
	h, ok := handlers.m[typ]
	handlers.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTxType, typ)
	}
	return h(ctx, payload)
}

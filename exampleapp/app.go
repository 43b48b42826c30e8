package exampleapp

import (
	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/events"
	"github.com/tolelom/rbchain/node"
)

// defaultRegistry is the package-level registry every handler file
// self-registers into via init().
var defaultRegistry = NewRegistry()

// App is a reference node.Application: a token ledger plus asset registry,
// dispatched by Message.Label. CheckTx rejects messages with no registered
// handler before they occupy mempool space; CheckBlock applies every
// message in order, rolling back and evicting the ones that fail.
type App struct {
	state    *State
	registry *Registry
	emitter  *events.Emitter
}

// NewApp builds an App over a fresh ledger. emitter may be nil.
func NewApp(emitter *events.Emitter) *App {
	return &App{state: NewState(), registry: defaultRegistry, emitter: emitter}
}

// State exposes the ledger for read-only inspection (tests, HTTP debug
// endpoints); mutation only ever happens through CheckBlock.
func (a *App) State() *State { return a.state }

func (a *App) CheckTx(msg block.Message) (bool, error) {
	if !msg.VerifyCertificate() {
		return false, nil
	}
	return a.registry.Labels(msg.Label), nil
}

func (a *App) CheckBlock(blk block.Block) (node.CheckBlockResult, error) {
	var rejected []block.Message
	for _, msg := range blk.Messages {
		snapID := a.state.Snapshot()
		ctx := &Context{State: a.state, Block: blk, Msg: msg, Emitter: a.emitter}
		if err := a.registry.Dispatch(ctx); err != nil {
			log.Warnf("message %s rejected: %v", msg.ID, err)
			if revertErr := a.state.RevertToSnapshot(snapID); revertErr != nil {
				return node.CheckBlockResult{}, revertErr
			}
			rejected = append(rejected, msg)
			continue
		}
		a.state.DiscardSnapshot(snapID)
	}
	if len(rejected) == 0 {
		return node.AcceptBlock(), nil
	}
	return node.RejectAndRemoveSelected(rejected), nil
}

func (a *App) DeliverBlock(blk block.Block) error {
	log.Infof("delivered block %s height %d with %d messages", blk.Header.Hash, blk.Header.Height, len(blk.Messages))
	return nil
}

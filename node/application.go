// Package node wires the commit coordinator (C8) and application hooks
// (C10) around the block manager, broadcast machine, membership store, and
// storage adapter built in the sibling packages.
package node

import (
	"github.com/tolelom/rbchain/block"
)

// RemoveKind tags which variant of RemoveMessages a RejectAndRemove result
// carries — All or Selected(list). A sum type, not a shared base.
type RemoveKind int

const (
	RemoveAll RemoveKind = iota
	RemoveSelected
)

// RemoveMessages is the nested sum type inside CheckBlockResult's
// RejectAndRemove variant.
type RemoveMessages struct {
	Kind     RemoveKind
	Selected []block.Message
}

// CheckBlockOutcome tags CheckBlockResult's three variants.
type CheckBlockOutcome int

const (
	Accept CheckBlockOutcome = iota
	Reject
	RejectAndRemove
)

// CheckBlockResult is the application's verdict on a block that has
// reached quorum, returned from Application.CheckBlock.
type CheckBlockResult struct {
	Outcome CheckBlockOutcome
	Remove  RemoveMessages // only meaningful when Outcome == RejectAndRemove
}

// AcceptBlock is the zero-configuration Accept result.
func AcceptBlock() CheckBlockResult { return CheckBlockResult{Outcome: Accept} }

// RejectBlock rejects the block with no mempool side effect.
func RejectBlock() CheckBlockResult { return CheckBlockResult{Outcome: Reject} }

// RejectAndRemoveAll rejects the block and evicts every one of its messages
// from the mempool.
func RejectAndRemoveAll() CheckBlockResult {
	return CheckBlockResult{Outcome: RejectAndRemove, Remove: RemoveMessages{Kind: RemoveAll}}
}

// RejectAndRemoveSelected rejects the block and evicts only the named
// messages from the mempool.
func RejectAndRemoveSelected(msgs []block.Message) CheckBlockResult {
	return CheckBlockResult{Outcome: RejectAndRemove, Remove: RemoveMessages{Kind: RemoveSelected, Selected: msgs}}
}

// Application is C10: the three synchronous hooks invoked from the
// coordinator. Implementations must return promptly, must not block on a
// lock held by the coordinator, and must not panic — a panic here is
// treated as fatal.
type Application interface {
	// CheckTx is the message admission gate, called before mempool admit.
	CheckTx(msg block.Message) (bool, error)
	// CheckBlock is the block admission gate, called once a block has
	// reached broadcast quorum and is about to be committed.
	CheckBlock(blk block.Block) (CheckBlockResult, error)
	// DeliverBlock is an advisory post-commit notification; its errors are
	// logged but never roll back the commit.
	DeliverBlock(blk block.Block) error
}

// DefaultApplication accepts every message and every block and does
// nothing on delivery. It is the reference no-op implementation (mirrors
// the "doesn't do any validation" placeholder every Application hook host
// ships alongside the real interface).
type DefaultApplication struct{}

func (DefaultApplication) CheckTx(block.Message) (bool, error) { return true, nil }

func (DefaultApplication) CheckBlock(block.Block) (CheckBlockResult, error) {
	return AcceptBlock(), nil
}

func (DefaultApplication) DeliverBlock(block.Block) error { return nil }

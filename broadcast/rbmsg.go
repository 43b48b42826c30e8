package broadcast

import (
	"fmt"
	"time"

	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/crypto"
)

// Phase is the RbMsg's sum-type tag — Echo or Vote, never a shared base.
type Phase string

const (
	PhaseEcho Phase = "echo"
	PhaseVote Phase = "vote"
)

// RbMsg is the protocol message exchanged over the request-response
// transport. Its certificate signs block.Header.Hash, not the block body.
// OriginalSender is re-stamped to the relaying peer's own id on every
// outbound reply (see processEcho/processVote) — it identifies who is
// vouching for this particular ECHO/VOTE, not the block's creator.
type RbMsg struct {
	ID             block.MessageID    `json:"id"`
	OriginalSender crypto.PeerId      `json:"original_sender"`
	TimestampS     int64              `json:"timestamp_s"`
	Phase          Phase              `json:"phase"`
	Block          block.Block        `json:"block"`
	Certificate    crypto.Certificate `json:"certificate"`
}

// NewRbMsg builds a fresh RbMsg with a new wire id.
func NewRbMsg(phase Phase, blk block.Block, originalSender crypto.PeerId, cert crypto.Certificate) (RbMsg, error) {
	id, err := block.NewMessageID()
	if err != nil {
		return RbMsg{}, fmt.Errorf("new rbmsg id: %w", err)
	}
	return RbMsg{
		ID:             id,
		OriginalSender: originalSender,
		TimestampS:     time.Now().Unix(),
		Phase:          phase,
		Block:          blk,
		Certificate:    cert,
	}, nil
}

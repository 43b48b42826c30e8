package exampleapp

import (
	"fmt"

	"github.com/tolelom/rbchain/crypto"
	"github.com/tolelom/rbchain/events"
)

// LabelTransfer is the Message.Label handled by handleTransfer.
const LabelTransfer = "transfer"

// TransferPayload moves Amount tokens from the message signer to To.
type TransferPayload struct {
	To     crypto.PeerId `json:"to"`
	Amount uint64        `json:"amount"`
}

func handleTransfer(ctx *Context, payload []byte) error {
	var p TransferPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	if p.Amount == 0 {
		return fmt.Errorf("transfer amount must be > 0")
	}
	signer, err := ctx.Msg.Certificate.Signer()
	if err != nil {
		return fmt.Errorf("recover signer: %w", err)
	}
	if signer == p.To {
		return fmt.Errorf("cannot transfer to self")
	}

	sender := ctx.State.GetAccount(signer)
	if sender.Balance < p.Amount {
		return fmt.Errorf("insufficient balance: have %d, need %d", sender.Balance, p.Amount)
	}
	sender.Balance -= p.Amount
	ctx.State.SetAccount(signer, sender)

	recipient := ctx.State.GetAccount(p.To)
	recipient.Balance += p.Amount
	ctx.State.SetAccount(p.To, recipient)

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventMessageAdmitted,
			MessageID:   ctx.Msg.ID,
			BlockHeight: ctx.Block.Header.Height,
			Peer:        signer,
			Data:        map[string]any{"label": LabelTransfer, "to": p.To.String(), "amount": p.Amount},
		})
	}
	return nil
}

func init() {
	defaultRegistry.Register(LabelTransfer, handleTransfer)
}

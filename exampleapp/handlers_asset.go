package exampleapp

import (
	"fmt"

	"github.com/tolelom/rbchain/block"
	"github.com/tolelom/rbchain/crypto"
	"github.com/tolelom/rbchain/events"
)

// Message labels the asset handlers dispatch on.
const (
	LabelRegisterTemplate = "register_template"
	LabelMintAsset        = "mint_asset"
	LabelBurnAsset        = "burn_asset"
	LabelTransferAsset    = "transfer_asset"
)

type RegisterTemplatePayload struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Schema    map[string]any `json:"schema"`
	Tradeable bool           `json:"tradeable"`
}

type MintAssetPayload struct {
	TemplateID string         `json:"template_id"`
	Owner      *crypto.PeerId `json:"owner,omitempty"` // defaults to the signer
	Properties map[string]any `json:"properties"`
}

type BurnAssetPayload struct {
	AssetID string `json:"asset_id"`
}

type TransferAssetPayload struct {
	AssetID string        `json:"asset_id"`
	To      crypto.PeerId `json:"to"`
}

func assetID(msg block.Message, templateID string) string {
	return msg.ID.String() + ":" + templateID
}

func handleRegisterTemplate(ctx *Context, payload []byte) error {
	var p RegisterTemplatePayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	if p.ID == "" {
		return fmt.Errorf("template id required")
	}
	if _, exists := ctx.State.GetTemplate(p.ID); exists {
		return fmt.Errorf("template %q already exists", p.ID)
	}
	signer, err := ctx.Msg.Certificate.Signer()
	if err != nil {
		return fmt.Errorf("recover signer: %w", err)
	}
	ctx.State.SetTemplate(Template{
		ID:        p.ID,
		Name:      p.Name,
		Schema:    p.Schema,
		Tradeable: p.Tradeable,
		Creator:   signer,
	})
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:      events.EventMessageAdmitted,
			MessageID: ctx.Msg.ID,
			Peer:      signer,
			Data:      map[string]any{"label": LabelRegisterTemplate, "template_id": p.ID},
		})
	}
	return nil
}

func handleMintAsset(ctx *Context, payload []byte) error {
	var p MintAssetPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	if p.TemplateID == "" {
		return fmt.Errorf("template_id required")
	}
	tmpl, ok := ctx.State.GetTemplate(p.TemplateID)
	if !ok {
		return fmt.Errorf("template %q not found", p.TemplateID)
	}
	signer, err := ctx.Msg.Certificate.Signer()
	if err != nil {
		return fmt.Errorf("recover signer: %w", err)
	}
	owner := signer
	if p.Owner != nil {
		owner = *p.Owner
	}
	id := assetID(ctx.Msg, p.TemplateID)
	ctx.State.SetAsset(Asset{
		ID:         id,
		TemplateID: p.TemplateID,
		Owner:      owner,
		Properties: p.Properties,
		Tradeable:  tmpl.Tradeable,
		MintedAt:   ctx.Block.Header.TimestampS,
	})
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:      events.EventMessageAdmitted,
			MessageID: ctx.Msg.ID,
			Peer:      signer,
			Data:      map[string]any{"label": LabelMintAsset, "asset_id": id},
		})
	}
	return nil
}

func handleBurnAsset(ctx *Context, payload []byte) error {
	var p BurnAssetPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	asset, ok := ctx.State.GetAsset(p.AssetID)
	if !ok {
		return fmt.Errorf("asset %q not found", p.AssetID)
	}
	signer, err := ctx.Msg.Certificate.Signer()
	if err != nil {
		return fmt.Errorf("recover signer: %w", err)
	}
	if asset.Owner != signer {
		return fmt.Errorf("only the asset owner can burn it")
	}
	ctx.State.DeleteAsset(p.AssetID)
	return nil
}

func handleTransferAsset(ctx *Context, payload []byte) error {
	var p TransferAssetPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	asset, ok := ctx.State.GetAsset(p.AssetID)
	if !ok {
		return fmt.Errorf("asset %q not found", p.AssetID)
	}
	signer, err := ctx.Msg.Certificate.Signer()
	if err != nil {
		return fmt.Errorf("recover signer: %w", err)
	}
	if asset.Owner != signer {
		return fmt.Errorf("only the asset owner can transfer it")
	}
	if !asset.Tradeable {
		return fmt.Errorf("asset %q is not tradeable", p.AssetID)
	}
	asset.Owner = p.To
	ctx.State.SetAsset(asset)
	return nil
}

func init() {
	defaultRegistry.Register(LabelRegisterTemplate, handleRegisterTemplate)
	defaultRegistry.Register(LabelMintAsset, handleMintAsset)
	defaultRegistry.Register(LabelBurnAsset, handleBurnAsset)
	defaultRegistry.Register(LabelTransferAsset, handleTransferAsset)
}

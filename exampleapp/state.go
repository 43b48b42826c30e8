// Package exampleapp is a reference node.Application: a minimal token
// ledger plus asset registry, dispatched by Message.Label. It exists to
// demonstrate the three Application hooks end to end, not as a production
// ledger.
package exampleapp

import (
	"fmt"

	"github.com/tolelom/rbchain/crypto"
)

// Account holds a participant's token balance, keyed by its peer id.
type Account struct {
	Balance uint64 `json:"balance"`
}

// Asset is a mintable, transferable, burnable unit tied to a Template.
type Asset struct {
	ID         string         `json:"id"`
	TemplateID string         `json:"template_id"`
	Owner      crypto.PeerId  `json:"owner"`
	Properties map[string]any `json:"properties"`
	Tradeable  bool           `json:"tradeable"`
	MintedAt   int64          `json:"minted_at"`
}

// Template defines the schema and trade rules for a class of assets.
type Template struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Schema    map[string]any `json:"schema"`
	Tradeable bool           `json:"tradeable"`
	Creator   crypto.PeerId  `json:"creator"`
}

type snapshot struct {
	accounts  map[crypto.PeerId]Account
	assets    map[string]Asset
	templates map[string]Template
}

// State is the in-memory world state exampleapp mutates. It has no
// underlying store and no state root: this chain's block header carries
// no commitment to application state, only to the message set, so state
// here is advisory bookkeeping for demonstration, not consensus-critical.
type State struct {
	accounts  map[crypto.PeerId]Account
	assets    map[string]Asset
	templates map[string]Template
	snapshots []snapshot
}

// NewState creates an empty ledger.
func NewState() *State {
	return &State{
		accounts:  make(map[crypto.PeerId]Account),
		assets:    make(map[string]Asset),
		templates: make(map[string]Template),
	}
}

func (s *State) GetAccount(id crypto.PeerId) Account {
	return s.accounts[id]
}

func (s *State) SetAccount(id crypto.PeerId, acc Account) {
	s.accounts[id] = acc
}

func (s *State) GetAsset(id string) (Asset, bool) {
	a, ok := s.assets[id]
	return a, ok
}

func (s *State) SetAsset(a Asset) {
	s.assets[a.ID] = a
}

func (s *State) DeleteAsset(id string) {
	delete(s.assets, id)
}

func (s *State) GetTemplate(id string) (Template, bool) {
	t, ok := s.templates[id]
	return t, ok
}

func (s *State) SetTemplate(t Template) {
	s.templates[t.ID] = t
}

// Snapshot saves a deep copy of the current state and returns its index.
func (s *State) Snapshot() int {
	snap := snapshot{
		accounts:  make(map[crypto.PeerId]Account, len(s.accounts)),
		assets:    make(map[string]Asset, len(s.assets)),
		templates: make(map[string]Template, len(s.templates)),
	}
	for k, v := range s.accounts {
		snap.accounts[k] = v
	}
	for k, v := range s.assets {
		snap.assets[k] = v
	}
	for k, v := range s.templates {
		snap.templates[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1
}

// RevertToSnapshot restores state to the snapshot taken at id, discarding
// every snapshot taken after it.
func (s *State) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("exampleapp: invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]
	s.accounts = snap.accounts
	s.assets = snap.assets
	s.templates = snap.templates
	s.snapshots = s.snapshots[:id]
	return nil
}

// DiscardSnapshot drops the snapshot taken at id without reverting to it,
// once its corresponding message has applied cleanly.
func (s *State) DiscardSnapshot(id int) {
	if id >= 0 && id < len(s.snapshots) {
		s.snapshots = s.snapshots[:id]
	}
}

package block

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tolelom/rbchain/crypto"
)

// MessageID is the 128-bit opaque identifier of a Message.
type MessageID [16]byte

// NewMessageID generates a random message id.
func NewMessageID() (MessageID, error) {
	var id MessageID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("generate message id: %w", err)
	}
	return id, nil
}

func (id MessageID) String() string {
	return hex.EncodeToString(id[:])
}

// Less orders ids lexicographically on their bytes, the sort order the
// block producer uses before hashing.
func (id MessageID) Less(other MessageID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

func MessageIDFromHex(s string) (MessageID, error) {
	var id MessageID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid message id hex: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("message id must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

func (id MessageID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *MessageID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := MessageIDFromHex(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Message is an application-submitted payload admitted into a block.
// The raw form {id, data} is what the certificate signs; Label and
// TimestampS are not part of the message's identity.
type Message struct {
	ID          MessageID         `json:"id"`
	TimestampS  int64             `json:"timestamp_s"`
	Label       string            `json:"label"`
	Data        []byte            `json:"data"`
	Certificate crypto.Certificate `json:"certificate"`
}

// rawMessage is the signed/hashed body.
type rawMessage struct {
	ID   MessageID `json:"id"`
	Data []byte    `json:"data"`
}

func (m Message) raw() rawMessage {
	return rawMessage{ID: m.ID, Data: m.Data}
}

// EncodeRaw canonically encodes the raw (id, data) body a signer certifies.
func (m Message) EncodeRaw() ([]byte, error) {
	return encodeCanonical(m.raw())
}

// Hash returns Hash(encode(Message's raw form)), the mempool key.
func (m Message) Hash() (Hash, error) {
	data, err := m.EncodeRaw()
	if err != nil {
		return Hash{}, fmt.Errorf("encode message: %w", err)
	}
	return HashOf(data), nil
}

// VerifyCertificate reports whether m.Certificate is a valid endorsement of
// m's raw body.
func (m Message) VerifyCertificate() bool {
	raw, err := m.EncodeRaw()
	if err != nil {
		return false
	}
	return crypto.VerifyCertificate(raw, m.Certificate)
}

// Sign certifies data as a new Message using svc, stamping id/timestamp/label.
func Sign(svc *crypto.CertService, label string, data []byte, timestampS int64) (Message, error) {
	id, err := NewMessageID()
	if err != nil {
		return Message{}, err
	}
	raw := rawMessage{ID: id, Data: data}
	rawBytes, err := encodeCanonical(raw)
	if err != nil {
		return Message{}, fmt.Errorf("encode message: %w", err)
	}
	cert, err := svc.Sign(rawBytes)
	if err != nil {
		return Message{}, fmt.Errorf("sign message: %w", err)
	}
	return Message{
		ID:          id,
		TimestampS:  timestampS,
		Label:       label,
		Data:        data,
		Certificate: cert,
	}, nil
}

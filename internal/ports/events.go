package ports

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

type EventKind string

const (
	EventGameRegistered    EventKind = "GameRegistered"
	EventGamePurchased     EventKind = "GamePurchased"
	EventGameStatusChanged EventKind = "GameStatusChanged"
)

// ABI signatures, used to derive log topics compatible with the deployed contract.
var eventSignatures = map[EventKind]string{
	EventGameRegistered:    "GameRegistered(uint256,address,string,uint256)",
	EventGamePurchased:     "GamePurchased(uint256,address,uint256,uint256,uint256)",
	EventGameStatusChanged: "GameStatusChanged(uint256,bool)",
}

// Topic returns keccak256 of the event signature.
func (k EventKind) Topic() common.Hash {
	sig, ok := eventSignatures[k]
	if !ok {
		return common.Hash{}
	}
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(sig))
	return common.BytesToHash(h.Sum(nil))
}

// Event is one entry of the audit log. Only the fields of its Kind are set.
type Event struct {
	Seq    uint64    `json:"seq"`
	TxID   string    `json:"tx_id"`
	Kind   EventKind `json:"kind"`
	GameID uint64    `json:"game_id"`
	Time   time.Time `json:"time"`

	// GameRegistered
	Owner        common.Address `json:"owner,omitempty"`
	MetadataHash string         `json:"metadata_hash,omitempty"`
	BasePriceUSD uint64         `json:"base_price_usd,omitempty"`

	// GamePurchased
	Buyer      common.Address `json:"buyer,omitempty"`
	AmountPaid *big.Int       `json:"amount_paid,omitempty"`
	Fee        *big.Int       `json:"fee,omitempty"`
	Net        *big.Int       `json:"net,omitempty"`

	// GameStatusChanged
	IsActive bool `json:"is_active,omitempty"`
}

// Clone copies the event including its big.Int amounts.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.AmountPaid = cloneInt(e.AmountPaid)
	c.Fee = cloneInt(e.Fee)
	c.Net = cloneInt(e.Net)
	return &c
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// EventPublisher forwards committed events to an external sink (audit file, MQ).
type EventPublisher interface {
	Publish(ev *Event) error
	Close() error
}

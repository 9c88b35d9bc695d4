package domain

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Round identifies one cycle of the voting-incentive market. Round 0 marks
// test proposals and is never processed.
type Round int

// Proposal is a governance proposal bound to one round.
type Proposal struct {
	Round  Round
	ID     string
	Title  string
	Author string
	Start  time.Time
	End    time.Time
}

// ContentHash returns the keccak256 of the proposal id as 0x-prefixed
// lowercase hex. Hex ids are hashed as bytes, anything else as UTF-8 text.
// On-chain v1 incentive events reference proposals by this value.
func (p Proposal) ContentHash() string {
	return ContentHash(p.ID)
}

// IsOpen reports whether now falls inside the voting window.
func (p Proposal) IsOpen(now time.Time) bool {
	return !now.Before(p.Start) && !now.After(p.End)
}

// IsClosed reports whether the voting window has ended.
func (p Proposal) IsClosed(now time.Time) bool {
	return now.After(p.End)
}

// ContentHash hashes a governance id the way the v1 incentive contract does.
func ContentHash(id string) string {
	var data []byte
	if strings.HasPrefix(id, "0x") || strings.HasPrefix(id, "0X") {
		b, err := hexutil.Decode(id)
		if err != nil {
			// Malformed hex falls back to text hashing.
			data = []byte(id)
		} else {
			data = b
		}
	} else {
		data = []byte(id)
	}
	return strings.ToLower(crypto.Keccak256Hash(data).Hex())
}

// SameHash compares two hex strings ignoring case and an optional 0x prefix.
func SameHash(a, b string) bool {
	return strings.EqualFold(Strip0x(a), Strip0x(b))
}

// Strip0x removes a leading 0x or 0X.
func Strip0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}

// Choice is one voteable gauge within a proposal.
type Choice struct {
	Name     string
	Index    int
	Score    float64
	PctScore float64
}

// ChoiceByName returns the choice with an exactly matching name.
func ChoiceByName(choices []Choice, name string) (Choice, bool) {
	for _, c := range choices {
		if c.Name == name {
			return c, true
		}
	}
	return Choice{}, false
}

// GaugeRegistry maps gauge contract addresses to their short names.
type GaugeRegistry interface {
	Name(addr common.Address) (string, bool)
}

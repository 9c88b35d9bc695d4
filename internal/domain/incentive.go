package domain

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// Event argument names of the two incentive contract versions.
const (
	V1ArgProposal    = "_proposal"
	V1ArgToken       = "_token"
	V1ArgAmount      = "_amount"
	V1ArgChoiceIndex = "_choiceIndex"

	V2ArgRound  = "_round"
	V2ArgGauge  = "_gauge"
	V2ArgToken  = "_token"
	V2ArgAmount = "_amount"
)

// Deposit holds the fields shared by every incentive event version.
type Deposit struct {
	Token       common.Address
	Amount      *big.Int
	TxHash      string
	LogIndex    uint
	BlockHash   string
	BlockNumber uint64
}

// IncentiveEvent is either an IncentiveEventV1 or an IncentiveEventV2.
type IncentiveEvent interface {
	Common() Deposit
	Version() int
}

// IncentiveEventV1 references its proposal by content hash and its choice by
// 1-based index.
type IncentiveEventV1 struct {
	ProposalHash string
	ChoiceIndex  int
	Deposit      Deposit
}

func (e IncentiveEventV1) Common() Deposit { return e.Deposit }
func (e IncentiveEventV1) Version() int    { return 1 }

// IncentiveEventV2 references its round by number and its choice by gauge
// address.
type IncentiveEventV2 struct {
	Round   Round
	Gauge   common.Address
	Deposit Deposit
}

func (e IncentiveEventV2) Common() Deposit { return e.Deposit }
func (e IncentiveEventV2) Version() int    { return 2 }

// ParseV1 converts a cached v1 Bribed record.
func ParseV1(r EventRecord) (IncentiveEventV1, error) {
	dep, err := parseDeposit(r, V1ArgToken, V1ArgAmount)
	if err != nil {
		return IncentiveEventV1{}, err
	}
	hash, ok := r.Arg(V1ArgProposal)
	if !ok {
		return IncentiveEventV1{}, fmt.Errorf("domain: v1 event %s: missing %s", r.TxHash, V1ArgProposal)
	}
	idxStr, ok := r.Arg(V1ArgChoiceIndex)
	if !ok {
		return IncentiveEventV1{}, fmt.Errorf("domain: v1 event %s: missing %s", r.TxHash, V1ArgChoiceIndex)
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return IncentiveEventV1{}, fmt.Errorf("domain: v1 event %s: choice index %q: %w", r.TxHash, idxStr, err)
	}
	return IncentiveEventV1{ProposalHash: hash, ChoiceIndex: idx, Deposit: dep}, nil
}

// ParseV2 converts a cached v2 NewIncentive record.
func ParseV2(r EventRecord) (IncentiveEventV2, error) {
	dep, err := parseDeposit(r, V2ArgToken, V2ArgAmount)
	if err != nil {
		return IncentiveEventV2{}, err
	}
	roundStr, ok := r.Arg(V2ArgRound)
	if !ok {
		return IncentiveEventV2{}, fmt.Errorf("domain: v2 event %s: missing %s", r.TxHash, V2ArgRound)
	}
	round, err := strconv.Atoi(roundStr)
	if err != nil {
		return IncentiveEventV2{}, fmt.Errorf("domain: v2 event %s: round %q: %w", r.TxHash, roundStr, err)
	}
	gauge, ok := r.Arg(V2ArgGauge)
	if !ok || !common.IsHexAddress(gauge) {
		return IncentiveEventV2{}, fmt.Errorf("domain: v2 event %s: bad gauge %q", r.TxHash, gauge)
	}
	return IncentiveEventV2{Round: Round(round), Gauge: common.HexToAddress(gauge), Deposit: dep}, nil
}

func parseDeposit(r EventRecord, tokenArg, amountArg string) (Deposit, error) {
	token, ok := r.Arg(tokenArg)
	if !ok || !common.IsHexAddress(token) {
		return Deposit{}, fmt.Errorf("domain: event %s: bad token %q", r.TxHash, token)
	}
	amountStr, ok := r.Arg(amountArg)
	if !ok {
		return Deposit{}, fmt.Errorf("domain: event %s: missing %s", r.TxHash, amountArg)
	}
	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok {
		return Deposit{}, fmt.Errorf("domain: event %s: bad amount %q", r.TxHash, amountStr)
	}
	return Deposit{
		Token:       common.HexToAddress(token),
		Amount:      amount,
		TxHash:      r.TxHash,
		LogIndex:    r.LogIndex,
		BlockHash:   r.BlockHash,
		BlockNumber: r.BlockNumber,
	}, nil
}

// ApportionedIncentive is an incentive deposit joined to its round and gauge,
// carrying its even share of the gauge score.
type ApportionedIncentive struct {
	Round           Round
	Gauge           string
	ChoiceIndex     int
	Deposit         Deposit
	TokenSymbol     string
	TokenName       string
	Timestamp       int64
	Score           float64
	DepositCount    int
	UnadjustedScore float64
}

// TokenInfo is ERC20 metadata.
type TokenInfo struct {
	Symbol string
	Name   string
}

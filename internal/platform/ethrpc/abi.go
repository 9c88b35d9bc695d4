package ethrpc

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Votium v1 (snapshot-proposal keyed) incentive contract.
const VotiumV1ABI = `[
  {"anonymous":false,"name":"Bribed","type":"event","inputs":[
    {"indexed":false,"internalType":"address","name":"_token","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"_amount","type":"uint256"},
    {"indexed":true,"internalType":"bytes32","name":"_proposal","type":"bytes32"},
    {"indexed":false,"internalType":"uint256","name":"_choiceIndex","type":"uint256"}]},
  {"anonymous":false,"name":"Initiated","type":"event","inputs":[
    {"indexed":false,"internalType":"bytes32","name":"_proposal","type":"bytes32"}]}
]`

// Votium v2 (round and gauge keyed) incentive contract.
const VotiumV2ABI = `[
  {"anonymous":false,"name":"NewIncentive","type":"event","inputs":[
    {"indexed":false,"internalType":"uint256","name":"_index","type":"uint256"},
    {"indexed":false,"internalType":"address","name":"_token","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"_amount","type":"uint256"},
    {"indexed":true,"internalType":"uint256","name":"_round","type":"uint256"},
    {"indexed":true,"internalType":"address","name":"_gauge","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"_maxPerVote","type":"uint256"},
    {"indexed":false,"internalType":"address[]","name":"_excluded","type":"address[]"},
    {"indexed":true,"internalType":"address","name":"_depositor","type":"address"},
    {"indexed":false,"internalType":"bool","name":"_recycled","type":"bool"}]}
]`

const erc20ABI = `[
  {"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

// Some early tokens (MKR, SAI) return bytes32 instead of string.
const erc20Bytes32ABI = `[
  {"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view","type":"function"}
]`

var (
	erc20        = mustParse(erc20ABI)
	erc20Bytes32 = mustParse(erc20Bytes32ABI)
)

// ParseABI parses a JSON ABI definition.
func ParseABI(def string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("ethrpc: parse abi: %w", err)
	}
	return parsed, nil
}

func mustParse(def string) abi.ABI {
	parsed, err := ParseABI(def)
	if err != nil {
		panic(err)
	}
	return parsed
}

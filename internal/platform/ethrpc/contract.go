package ethrpc

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Contract pairs a deployed address with its ABI.
type Contract struct {
	Name    string
	Address common.Address
	ABI     abi.ABI
}

// NewContract parses def and binds it to addr.
func NewContract(name string, addr common.Address, def string) (Contract, error) {
	parsed, err := ParseABI(def)
	if err != nil {
		return Contract{}, err
	}
	return Contract{Name: name, Address: addr, ABI: parsed}, nil
}

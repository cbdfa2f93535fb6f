package ledger

import (
	_ "embed"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/roach88/lienwatch/internal/ident"
)

// DefaultContractAddress is the deployed registry.
var DefaultContractAddress = common.HexToAddress("0x72e313B60a40E84336Fba9Fb6b7aDDE2aFD958eD")

const (
	methodRegister = "registerMortgage"
	methodCheck    = "checkMortgage"
)

//go:embed registry.abi.json
var registryABIJSON string

// RegistryABI is the parsed registry contract ABI.
var RegistryABI = mustParseABI(registryABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("ledger: parse registry abi: %v", err))
	}
	return parsed
}

// PackRegister returns calldata for registerMortgage(id).
func PackRegister(id ident.PropertyID) ([]byte, error) {
	data, err := RegistryABI.Pack(methodRegister, [32]byte(id))
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", methodRegister, err)
	}
	return data, nil
}

// eventID returns the topic0 for a stream.
func eventID(s Stream) common.Hash {
	return RegistryABI.Events[string(s)].ID
}

// DecodeRegistered decodes a MortgageRegistered log.
func DecodeRegistered(l types.Log) (MortgageRegistered, error) {
	if len(l.Topics) != 3 || l.Topics[0] != eventID(StreamMortgageRegistered) {
		return MortgageRegistered{}, fmt.Errorf("decode %s: unexpected topics in log %s/%d", StreamMortgageRegistered, l.TxHash.Hex(), l.Index)
	}
	values, err := RegistryABI.Unpack(string(StreamMortgageRegistered), l.Data)
	if err != nil {
		return MortgageRegistered{}, fmt.Errorf("decode %s data: %w", StreamMortgageRegistered, err)
	}
	if len(values) != 1 {
		return MortgageRegistered{}, fmt.Errorf("decode %s data: got %d values, want 1", StreamMortgageRegistered, len(values))
	}
	ts, ok := values[0].(*big.Int)
	if !ok || !ts.IsUint64() {
		return MortgageRegistered{}, fmt.Errorf("decode %s: timestamp out of range", StreamMortgageRegistered)
	}
	return MortgageRegistered{
		PropertyID:  ident.FromHash(l.Topics[1]),
		Financier:   common.BytesToAddress(l.Topics[2].Bytes()),
		Timestamp:   ts.Uint64(),
		BlockNumber: l.BlockNumber,
		TxHash:      l.TxHash,
	}, nil
}

// DecodeAlert decodes an AlertDoubleFinancing log. All arguments are indexed.
func DecodeAlert(l types.Log) (AlertDoubleFinancing, error) {
	if len(l.Topics) != 4 || l.Topics[0] != eventID(StreamAlertDoubleFinancing) {
		return AlertDoubleFinancing{}, fmt.Errorf("decode %s: unexpected topics in log %s/%d", StreamAlertDoubleFinancing, l.TxHash.Hex(), l.Index)
	}
	return AlertDoubleFinancing{
		PropertyID:       ident.FromHash(l.Topics[1]),
		PrimaryFinancier: common.BytesToAddress(l.Topics[2].Bytes()),
		NewFinancier:     common.BytesToAddress(l.Topics[3].Bytes()),
		BlockNumber:      l.BlockNumber,
		TxHash:           l.TxHash,
	}, nil
}

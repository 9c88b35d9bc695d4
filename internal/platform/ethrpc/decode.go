package ethrpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/bribemeter/internal/domain"
)

// DecodeLog turns a raw log into an EventRecord. Arguments keep the order in
// which the event declares them, indexed or not.
func DecodeLog(ev abi.Event, log types.Log) (domain.EventRecord, error) {
	if len(log.Topics) == 0 || log.Topics[0] != ev.ID {
		return domain.EventRecord{}, fmt.Errorf("ethrpc: decode %s: topic mismatch in tx %s", ev.Name, log.TxHash.Hex())
	}

	values := make(map[string]any, len(ev.Inputs))
	if len(log.Data) > 0 {
		if err := ev.Inputs.NonIndexed().UnpackIntoMap(values, log.Data); err != nil {
			return domain.EventRecord{}, fmt.Errorf("ethrpc: decode %s data: %w", ev.Name, err)
		}
	}
	var indexed abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if len(indexed) > 0 {
		if len(log.Topics)-1 != len(indexed) {
			return domain.EventRecord{}, fmt.Errorf("ethrpc: decode %s: %d topics for %d indexed args", ev.Name, len(log.Topics)-1, len(indexed))
		}
		if err := abi.ParseTopicsIntoMap(values, indexed, log.Topics[1:]); err != nil {
			return domain.EventRecord{}, fmt.Errorf("ethrpc: decode %s topics: %w", ev.Name, err)
		}
	}

	args := make([]domain.EventArg, 0, len(ev.Inputs))
	for _, in := range ev.Inputs {
		v, ok := values[in.Name]
		if !ok {
			return domain.EventRecord{}, fmt.Errorf("ethrpc: decode %s: argument %s missing", ev.Name, in.Name)
		}
		s, err := FormatValue(v)
		if err != nil {
			return domain.EventRecord{}, fmt.Errorf("ethrpc: decode %s.%s: %w", ev.Name, in.Name, err)
		}
		args = append(args, domain.EventArg{Name: in.Name, Value: s})
	}

	return domain.EventRecord{
		Args:        args,
		EventName:   ev.Name,
		LogIndex:    log.Index,
		TxIndex:     log.TxIndex,
		TxHash:      log.TxHash.Hex(),
		Address:     log.Address.Hex(),
		BlockHash:   log.BlockHash.Hex(),
		BlockNumber: log.BlockNumber,
	}, nil
}

// FormatValue renders a decoded ABI value as text: byte strings as hex
// without prefix, addresses checksummed, integers in base 10 and slices as
// JSON arrays.
func FormatValue(v any) (string, error) {
	switch x := v.(type) {
	case *big.Int:
		return x.String(), nil
	case common.Address:
		return x.Hex(), nil
	case common.Hash:
		return hex.EncodeToString(x[:]), nil
	case []byte:
		return hex.EncodeToString(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case string:
		return x, nil
	case uint8, uint16, uint32, uint64, int8, int16, int32, int64:
		return fmt.Sprint(x), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return hex.EncodeToString(b), nil
		}
		return formatList(rv)
	case reflect.Slice:
		return formatList(rv)
	}
	return "", fmt.Errorf("unsupported value type %T", v)
}

func formatList(rv reflect.Value) (string, error) {
	items := make([]string, rv.Len())
	for i := range rv.Len() {
		s, err := FormatValue(rv.Index(i).Interface())
		if err != nil {
			return "", err
		}
		items[i] = s
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

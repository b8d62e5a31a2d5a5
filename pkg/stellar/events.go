package stellar

import (
	"fmt"
	"math/big"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// Event is a contract event with its ScVal payload converted to Go values.
// Topic is the first topic when it is a symbol or string.
type Event struct {
	Topic  string
	Topics []any
	Data   any
}

func decodeContractEvents(perOperation [][]string, resultMetaXDR string) ([]Event, error) {
	var raw []xdr.ContractEvent
	if len(perOperation) > 0 {
		for _, op := range perOperation {
			for _, encoded := range op {
				var ev xdr.ContractEvent
				if err := xdr.SafeUnmarshalBase64(encoded, &ev); err != nil {
					return nil, fmt.Errorf("unmarshal contract event: %w", err)
				}
				raw = append(raw, ev)
			}
		}
	} else if resultMetaXDR != "" {
		var meta xdr.TransactionMeta
		if err := xdr.SafeUnmarshalBase64(resultMetaXDR, &meta); err != nil {
			return nil, fmt.Errorf("unmarshal transaction meta: %w", err)
		}
		if v3, ok := meta.GetV3(); ok && v3.SorobanMeta != nil {
			raw = v3.SorobanMeta.Events
		}
	}

	events := make([]Event, 0, len(raw))
	for _, ev := range raw {
		converted, err := convertEvent(ev)
		if err != nil {
			return nil, err
		}
		events = append(events, converted)
	}
	return events, nil
}

func convertEvent(ev xdr.ContractEvent) (Event, error) {
	body, ok := ev.Body.GetV0()
	if !ok {
		return Event{}, fmt.Errorf("unsupported contract event body v%d", ev.Body.V)
	}
	out := Event{Topics: make([]any, 0, len(body.Topics))}
	for i, topic := range body.Topics {
		value, err := ScValToNative(topic)
		if err != nil {
			return Event{}, fmt.Errorf("topic %d: %w", i, err)
		}
		if i == 0 {
			if name, ok := value.(string); ok {
				out.Topic = name
			}
		}
		out.Topics = append(out.Topics, value)
	}
	data, err := ScValToNative(body.Data)
	if err != nil {
		return Event{}, fmt.Errorf("event data: %w", err)
	}
	out.Data = data
	return out, nil
}

// ScValToNative converts a contract value into plain Go values. 128 bit
// integers become *big.Int, maps become map[string]any keyed by the
// formatted key, and addresses become strkey strings.
func ScValToNative(v xdr.ScVal) (any, error) {
	switch v.Type {
	case xdr.ScValTypeScvVoid:
		return nil, nil
	case xdr.ScValTypeScvBool:
		b, _ := v.GetB()
		return b, nil
	case xdr.ScValTypeScvU32:
		n, _ := v.GetU32()
		return uint32(n), nil
	case xdr.ScValTypeScvI32:
		n, _ := v.GetI32()
		return int32(n), nil
	case xdr.ScValTypeScvU64:
		n, _ := v.GetU64()
		return uint64(n), nil
	case xdr.ScValTypeScvI64:
		n, _ := v.GetI64()
		return int64(n), nil
	case xdr.ScValTypeScvTimepoint:
		n, _ := v.GetTimepoint()
		return uint64(n), nil
	case xdr.ScValTypeScvDuration:
		n, _ := v.GetDuration()
		return uint64(n), nil
	case xdr.ScValTypeScvU128:
		parts, _ := v.GetU128()
		hi := new(big.Int).Lsh(new(big.Int).SetUint64(uint64(parts.Hi)), 64)
		return hi.Add(hi, new(big.Int).SetUint64(uint64(parts.Lo))), nil
	case xdr.ScValTypeScvI128:
		parts, _ := v.GetI128()
		hi := new(big.Int).Lsh(big.NewInt(int64(parts.Hi)), 64)
		return hi.Add(hi, new(big.Int).SetUint64(uint64(parts.Lo))), nil
	case xdr.ScValTypeScvBytes:
		b, _ := v.GetBytes()
		return []byte(b), nil
	case xdr.ScValTypeScvString:
		s, _ := v.GetStr()
		return string(s), nil
	case xdr.ScValTypeScvSymbol:
		s, _ := v.GetSym()
		return string(s), nil
	case xdr.ScValTypeScvVec:
		vec, ok := v.GetVec()
		if !ok || vec == nil {
			return []any{}, nil
		}
		out := make([]any, 0, len(*vec))
		for i, item := range *vec {
			native, err := ScValToNative(item)
			if err != nil {
				return nil, fmt.Errorf("vec[%d]: %w", i, err)
			}
			out = append(out, native)
		}
		return out, nil
	case xdr.ScValTypeScvMap:
		m, ok := v.GetMap()
		if !ok || m == nil {
			return map[string]any{}, nil
		}
		out := make(map[string]any, len(*m))
		for _, entry := range *m {
			key, err := ScValToNative(entry.Key)
			if err != nil {
				return nil, fmt.Errorf("map key: %w", err)
			}
			val, err := ScValToNative(entry.Val)
			if err != nil {
				return nil, fmt.Errorf("map[%v]: %w", key, err)
			}
			out[fmt.Sprint(key)] = val
		}
		return out, nil
	case xdr.ScValTypeScvAddress:
		addr, _ := v.GetAddress()
		return addressString(addr)
	default:
		return nil, fmt.Errorf("unsupported scval type %s", v.Type.String())
	}
}

func addressString(addr xdr.ScAddress) (string, error) {
	switch addr.Type {
	case xdr.ScAddressTypeScAddressTypeAccount:
		if addr.AccountId == nil {
			return "", fmt.Errorf("account address without id")
		}
		return addr.AccountId.Address(), nil
	case xdr.ScAddressTypeScAddressTypeContract:
		raw, err := addr.MarshalBinary()
		if err != nil {
			return "", err
		}
		if len(raw) < 32 {
			return "", fmt.Errorf("contract address too short")
		}
		return strkey.Encode(strkey.VersionByteContract, raw[len(raw)-32:])
	default:
		return "", fmt.Errorf("unsupported address type %d", addr.Type)
	}
}

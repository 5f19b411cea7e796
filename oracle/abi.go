package oracle

import (
	"math/big"
	"strings"

	"github.com/celer-network/oracle-updater/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

const pythABIJSON = `[
 {"type":"function","name":"getPriceUnsafe","stateMutability":"view",
  "inputs":[{"name":"id","type":"bytes32"}],
  "outputs":[{"name":"price","type":"tuple","components":[
    {"name":"price","type":"int64"},{"name":"conf","type":"uint64"},
    {"name":"expo","type":"int32"},{"name":"publishTime","type":"uint256"}]}]},
 {"type":"function","name":"getUpdateFee","stateMutability":"view",
  "inputs":[{"name":"updateData","type":"bytes[]"}],
  "outputs":[{"name":"feeAmount","type":"uint256"}]}
]`

const multicallABIJSON = `[
 {"type":"function","name":"aggregate3","stateMutability":"payable",
  "inputs":[{"name":"calls","type":"tuple[]","components":[
    {"name":"target","type":"address"},{"name":"allowFailure","type":"bool"},
    {"name":"callData","type":"bytes"}]}],
  "outputs":[{"name":"returnData","type":"tuple[]","components":[
    {"name":"success","type":"bool"},{"name":"returnData","type":"bytes"}]}]},
 {"type":"function","name":"aggregate3Value","stateMutability":"payable",
  "inputs":[{"name":"calls","type":"tuple[]","components":[
    {"name":"target","type":"address"},{"name":"allowFailure","type":"bool"},
    {"name":"value","type":"uint256"},{"name":"callData","type":"bytes"}]}],
  "outputs":[{"name":"returnData","type":"tuple[]","components":[
    {"name":"success","type":"bool"},{"name":"returnData","type":"bytes"}]}]}
]`

const updateableABIJSON = `[
 {"type":"function","name":"update","stateMutability":"payable",
  "inputs":[{"name":"data","type":"bytes"}],
  "outputs":[{"name":"","type":"bool"}]}
]`

var (
	PythABI       = mustParseABI(pythABIJSON)
	MulticallABI  = mustParseABI(multicallABIJSON)
	UpdateableABI = mustParseABI(updateableABIJSON)

	updatePayloadArgs = abi.Arguments{
		{Type: mustNewType("bytes32")},
		{Type: mustNewType("bytes[]")},
	}
)

func mustParseABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return a
}

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Call3 is one Multicall3 aggregate3 call.
type Call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// Call3Value is one Multicall3 aggregate3Value call.
type Call3Value struct {
	Target       common.Address
	AllowFailure bool
	Value        *big.Int
	CallData     []byte
}

// Result mirrors Multicall3.Result, tags included so the decoded anonymous
// struct converts directly.
type Result struct {
	Success    bool   `json:"success"`
	ReturnData []byte `json:"returnData"`
}

type pythPrice struct {
	Price       int64    `json:"price"`
	Conf        uint64   `json:"conf"`
	Expo        int32    `json:"expo"`
	PublishTime *big.Int `json:"publishTime"`
}

func PackGetPriceUnsafe(id common.Hash) ([]byte, error) {
	return PythABI.Pack("getPriceUnsafe", id)
}

// UnpackPrice decodes a getPriceUnsafe return value.
func UnpackPrice(data []byte) (types.PriceValue, error) {
	out, err := PythABI.Unpack("getPriceUnsafe", data)
	if err != nil {
		return types.PriceValue{}, errors.Wrap(err, "could not decode price")
	}
	p := *abi.ConvertType(out[0], new(pythPrice)).(*pythPrice)
	return types.PriceValue{
		Price:       p.Price,
		Conf:        p.Conf,
		Expo:        p.Expo,
		PublishTime: unixTime(p.PublishTime),
	}, nil
}

func PackGetUpdateFee(updateData [][]byte) ([]byte, error) {
	return PythABI.Pack("getUpdateFee", updateData)
}

func UnpackUpdateFee(data []byte) (*big.Int, error) {
	out, err := PythABI.Unpack("getUpdateFee", data)
	if err != nil {
		return nil, errors.Wrap(err, "could not decode update fee")
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func PackAggregate3(calls []Call3) ([]byte, error) {
	return MulticallABI.Pack("aggregate3", calls)
}

func UnpackAggregate3(data []byte) ([]Result, error) {
	out, err := MulticallABI.Unpack("aggregate3", data)
	if err != nil {
		return nil, errors.Wrap(err, "could not decode multicall results")
	}
	return *abi.ConvertType(out[0], new([]Result)).(*[]Result), nil
}

func PackAggregate3Value(calls []Call3Value) ([]byte, error) {
	return MulticallABI.Pack("aggregate3Value", calls)
}

// PackUpdate encodes IUpdateable.update(abi.encode(feedID, updateData)).
func PackUpdate(feedID common.Hash, updateData [][]byte) ([]byte, error) {
	payload, err := updatePayloadArgs.Pack(feedID, updateData)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode update payload")
	}
	return UpdateableABI.Pack("update", payload)
}

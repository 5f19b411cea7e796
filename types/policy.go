package types

import "math/big"

// GasLimitPolicy is either FixedGasLimit or EstimatedGasLimit.
type GasLimitPolicy interface {
	isGasLimitPolicy()
}

// FixedGasLimit skips estimation entirely.
type FixedGasLimit struct {
	Limit uint64
}

// EstimatedGasLimit scales the node's estimate.
type EstimatedGasLimit struct {
	Multiplier Rational
}

func (FixedGasLimit) isGasLimitPolicy()     {}
func (EstimatedGasLimit) isGasLimitPolicy() {}

// FeeOverride is either NoFeeOverride or FixedFee.
type FeeOverride interface {
	isFeeOverride()
}

// NoFeeOverride means the update fee is queried from the Pyth contract.
type NoFeeOverride struct{}

// FixedFee pays a configured amount of wei per update.
type FixedFee struct {
	Amount *big.Int
}

func (NoFeeOverride) isFeeOverride() {}
func (FixedFee) isFeeOverride()      {}

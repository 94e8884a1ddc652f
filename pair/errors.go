package pair

import (
	"errors"
	"fmt"

	"github.com/defistate/concentrated-liquidity-go/position"
	"github.com/defistate/concentrated-liquidity-go/protocols/clpool/calculator"
)

var (
	ErrInvalidTickRange   = errors.New("upper tick must be greater than or equal to lower tick and inside the tick bounds")
	ErrTickRangeLimit     = fmt.Errorf("%w: range exceeds the tick range limit", ErrInvalidTickRange)
	ErrZeroLiquidity      = errors.New("zero liquidity")
	ErrAssetMismatch      = errors.New("asset mismatch")
	ErrProvideOption      = errors.New("either a position id or a tick range is required")
	ErrInvalidTickSpacing = errors.New("tick spacing must be greater than zero")
	ErrInvalidFeeRate     = errors.New("fee rate must be less than one")
	ErrInvalidPrice       = errors.New("initial price is outside the supported range")
	ErrInvalidAssets      = errors.New("assets must be distinct and in ascending order")
	ErrPoolExists         = errors.New("pool already exists")
	ErrTickNotFound       = errors.New("tick not found")
	ErrAsset0MustBeZero   = errors.New("asset0 must be 0 amount")
	ErrAsset1MustBeZero   = errors.New("asset1 must be 0 amount")

	ErrUnauthorized = position.ErrUnauthorized

	ErrCannotSwap       = calculator.ErrCannotSwap
	ErrSlippageExceeded = calculator.ErrSlippageExceeded
	ErrMaxStepsExceeded = calculator.ErrMaxStepsExceeded
)

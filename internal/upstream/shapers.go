package upstream

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// GetBatchesSpec shapes the getBatches result: three parallel big-integer
// sequences plus the settlement token address.
func GetBatchesSpec() MethodSpec {
	return MethodSpec{
		Name: "getBatches",
		Shape: func(values []interface{}) (interface{}, error) {
			if len(values) != 4 {
				return nil, fmt.Errorf("getBatches: expected 4 output values, got %d", len(values))
			}

			ids, err := bigIntSlice(values[0], "batchIds")
			if err != nil {
				return nil, err
			}
			amounts, err := bigIntSlice(values[1], "amounts")
			if err != nil {
				return nil, err
			}
			unlockTimes, err := bigIntSlice(values[2], "unlockTimes")
			if err != nil {
				return nil, err
			}
			token, ok := values[3].(common.Address)
			if !ok {
				return nil, fmt.Errorf("getBatches: token is %T, expected address", values[3])
			}

			return map[string]interface{}{
				"batchIds":    ids,
				"amounts":     amounts,
				"unlockTimes": unlockTimes,
				"token":       token,
			}, nil
		},
	}
}

// BalanceOfSpec shapes the single uint256 balanceOf result.
func BalanceOfSpec() MethodSpec {
	return MethodSpec{
		Name: "balanceOf",
		Shape: func(values []interface{}) (interface{}, error) {
			if len(values) != 1 {
				return nil, fmt.Errorf("balanceOf: expected 1 output value, got %d", len(values))
			}
			balance, ok := values[0].(*big.Int)
			if !ok {
				return nil, fmt.Errorf("balanceOf: balance is %T, expected *big.Int", values[0])
			}
			return map[string]interface{}{"balance": balance}, nil
		},
	}
}

func bigIntSlice(v interface{}, field string) ([]*big.Int, error) {
	s, ok := v.([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("getBatches: %s is %T, expected []*big.Int", field, v)
	}
	return s, nil
}

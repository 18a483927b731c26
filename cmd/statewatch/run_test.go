package main

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestParseCallArgs(t *testing.T) {
	t.Parallel()

	parsed, err := parseCallArgs([]string{
		"0x2222222222222222222222222222222222222222",
		"115792089237316195423570985008687907853269984665640564039457584007913129639935",
		"some-label",
	})
	require.NoError(t, err)
	require.Len(t, parsed, 3)

	require.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), parsed[0])

	wide, ok := parsed[1].(*big.Int)
	require.True(t, ok)
	require.Equal(t, "115792089237316195423570985008687907853269984665640564039457584007913129639935", wide.String())

	require.Equal(t, "some-label", parsed[2])
}

func TestParseCallArgsEmpty(t *testing.T) {
	t.Parallel()

	parsed, err := parseCallArgs(nil)
	require.NoError(t, err)
	require.Empty(t, parsed)
}

func TestIsDecimal(t *testing.T) {
	t.Parallel()

	require.True(t, isDecimal("0"))
	require.True(t, isDecimal("123456"))
	require.False(t, isDecimal(""))
	require.False(t, isDecimal("12a"))
	require.False(t, isDecimal("-5"))
}

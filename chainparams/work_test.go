package chainparams

import (
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func TestCalcWorkMonotonic(t *testing.T) {
	easy := CalcWork(0x207fffff)
	hard := CalcWork(0x1d00ffff)
	require.True(t, hard.Cmp(easy) > 0, "a lower target must imply more work")
}

func TestCalcWorkZeroTarget(t *testing.T) {
	require.Equal(t, big.NewInt(0), CalcWork(0))
}

func TestCheckProofOfWorkRejectsAboveLimit(t *testing.T) {
	// bits claiming an easier target than the network's PowLimitBits is invalid.
	err := CheckProofOfWork(chainhash.Hash{}, 0x2100ffff, 0x1d00ffff)
	require.Error(t, err)
}

func TestCheckProofOfWorkRejectsInsufficientHash(t *testing.T) {
	var hash chainhash.Hash
	hash[31] = 0xff // large as a big-endian-interpreted number
	err := CheckProofOfWork(hash, 0x03000001, 0x1d00ffff)
	require.Error(t, err)
}

package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"Dollarchain/internal/apperr"
	"Dollarchain/internal/config"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tokenAddr    = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	treasuryAddr = "0x1111111111111111111111111111111111111111"
	userAddr     = "0x2222222222222222222222222222222222222222"
	otherAddr    = "0x3333333333333333333333333333333333333333"
	txHash       = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

type scriptedReader struct {
	mu      sync.Mutex
	calls   int
	results []func() (*types.Receipt, error)
}

func (r *scriptedReader) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.calls
	r.calls++
	if i >= len(r.results) {
		i = len(r.results) - 1
	}
	return r.results[i]()
}

func notFound() (*types.Receipt, error) { return nil, ethereum.NotFound }

func receiptWith(status uint64, logs ...*types.Log) func() (*types.Receipt, error) {
	return func() (*types.Receipt, error) {
		return &types.Receipt{Status: status, Logs: logs}, nil
	}
}

func transferLog(token, from, to string, units int64) *types.Log {
	return &types.Log{
		Address: common.HexToAddress(token),
		Topics: []common.Hash{
			sigTransfer,
			common.BytesToHash(common.HexToAddress(from).Bytes()),
			common.BytesToHash(common.HexToAddress(to).Bytes()),
		},
		Data:        common.LeftPadBytes(big.NewInt(units).Bytes(), 32),
		BlockNumber: 42,
		Index:       3,
	}
}

func newTestVerifier(t *testing.T, reader ReceiptReader, attempts int) *Verifier {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	v, err := NewVerifier(reader, &config.ChainConfig{
		TokenAddress:    tokenAddr,
		TreasuryAddress: treasuryAddr,
		TokenDecimals:   6,
		MinAmount:       "1",
		VerifyAttempts:  attempts,
		VerifyBaseDelay: time.Millisecond,
		VerifyMaxDelay:  2 * time.Millisecond,
	}, logger)
	require.NoError(t, err)
	return v
}

func TestVerifyTransferMatches(t *testing.T) {
	reader := &scriptedReader{results: []func() (*types.Receipt, error){
		receiptWith(types.ReceiptStatusSuccessful,
			transferLog(otherAddr, userAddr, treasuryAddr, 1_000_000),
			transferLog(tokenAddr, userAddr, treasuryAddr, 1_000_000)),
	}}
	v := newTestVerifier(t, reader, 3)

	tr, err := v.VerifyTransfer(context.Background(), txHash, userAddr)
	require.NoError(t, err)
	assert.True(t, tr.Amount.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, common.HexToAddress(userAddr).Hex(), tr.From)
	assert.EqualValues(t, 42, tr.BlockNumber)
	assert.Equal(t, 1, reader.calls)
}

func TestVerifyTransferRetriesUntilMined(t *testing.T) {
	reader := &scriptedReader{results: []func() (*types.Receipt, error){
		notFound,
		func() (*types.Receipt, error) { return nil, errors.New("connection reset") },
		receiptWith(types.ReceiptStatusSuccessful, transferLog(tokenAddr, userAddr, treasuryAddr, 2_000_000)),
	}}
	v := newTestVerifier(t, reader, 5)

	tr, err := v.VerifyTransfer(context.Background(), txHash, userAddr)
	require.NoError(t, err)
	assert.Equal(t, "2000000", tr.RawValue)
	assert.Equal(t, 3, reader.calls)
}

func TestVerifyTransferGivesUpAfterAttempts(t *testing.T) {
	reader := &scriptedReader{results: []func() (*types.Receipt, error){notFound}}
	v := newTestVerifier(t, reader, 3)

	_, err := v.VerifyTransfer(context.Background(), txHash, userAddr)
	require.Error(t, err)
	assert.Equal(t, apperr.KindVerification, apperr.KindOf(err))
	assert.Equal(t, 3, reader.calls)
}

func TestVerifyTransferRPCDownIsDependencyError(t *testing.T) {
	reader := &scriptedReader{results: []func() (*types.Receipt, error){
		func() (*types.Receipt, error) { return nil, errors.New("dial tcp: connection refused") },
	}}
	v := newTestVerifier(t, reader, 2)

	_, err := v.VerifyTransfer(context.Background(), txHash, userAddr)
	assert.Equal(t, apperr.KindDependency, apperr.KindOf(err))
}

func TestVerifyTransferMismatchIsTerminal(t *testing.T) {
	cases := map[string]*types.Log{
		"wrong recipient": transferLog(tokenAddr, userAddr, otherAddr, 1_000_000),
		"wrong sender":    transferLog(tokenAddr, otherAddr, treasuryAddr, 1_000_000),
		"too small":       transferLog(tokenAddr, userAddr, treasuryAddr, 999_999),
		"wrong token":     transferLog(otherAddr, userAddr, treasuryAddr, 1_000_000),
	}
	for name, lg := range cases {
		t.Run(name, func(t *testing.T) {
			reader := &scriptedReader{results: []func() (*types.Receipt, error){receiptWith(types.ReceiptStatusSuccessful, lg)}}
			v := newTestVerifier(t, reader, 5)

			_, err := v.VerifyTransfer(context.Background(), txHash, userAddr)
			assert.Equal(t, apperr.KindVerification, apperr.KindOf(err))
			assert.Equal(t, 1, reader.calls)
		})
	}
}

func TestVerifyTransferReverted(t *testing.T) {
	reader := &scriptedReader{results: []func() (*types.Receipt, error){
		receiptWith(types.ReceiptStatusFailed, transferLog(tokenAddr, userAddr, treasuryAddr, 1_000_000)),
	}}
	v := newTestVerifier(t, reader, 5)

	_, err := v.VerifyTransfer(context.Background(), txHash, userAddr)
	assert.Equal(t, apperr.KindVerification, apperr.KindOf(err))
}

func TestVerifyTransferValidatesInput(t *testing.T) {
	v := newTestVerifier(t, &scriptedReader{results: []func() (*types.Receipt, error){notFound}}, 1)

	_, err := v.VerifyTransfer(context.Background(), "0x1234", userAddr)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = v.VerifyTransfer(context.Background(), txHash, "not-an-address")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestUnits(t *testing.T) {
	assert.Equal(t, "1500000", ToBaseUnits(decimal.RequireFromString("1.5"), 6).String())
	assert.Equal(t, "0", ToBaseUnits(decimal.Zero, 6).String())
	assert.True(t, FromBaseUnits(big.NewInt(22_400_000), 6).Equal(decimal.RequireFromString("22.4")))
}

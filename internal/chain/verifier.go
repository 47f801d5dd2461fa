package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"Dollarchain/internal/apperr"
	"Dollarchain/internal/config"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gojek/heimdall/v7"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Transfer(address indexed from, address indexed to, uint256 value)
var sigTransfer = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ReceiptReader ethclient.Client 的子集，便于测试替换
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Transfer 匹配到的稳定币转账
type Transfer struct {
	TxHash      string          `json:"tx_hash"`
	BlockNumber uint64          `json:"block_number"`
	LogIndex    uint            `json:"log_index"`
	Token       string          `json:"token"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	RawValue    string          `json:"raw_value"`
	Amount      decimal.Decimal `json:"amount"`
}

// Verifier 确认入金交易：回执成功，且包含一条从用户地址转入金库、金额不低于下限的 Transfer 日志
type Verifier struct {
	client    ReceiptReader
	token     common.Address
	treasury  common.Address
	minAmount *big.Int
	decimals  int32
	attempts  int
	backoff   heimdall.Backoff
	wait      func(ctx context.Context, d time.Duration) error
	logger    *logrus.Logger
}

// NewVerifier 由链上配置创建校验器
func NewVerifier(client ReceiptReader, cfg *config.ChainConfig, logger *logrus.Logger) (*Verifier, error) {
	if !common.IsHexAddress(cfg.TokenAddress) || !common.IsHexAddress(cfg.TreasuryAddress) {
		return nil, fmt.Errorf("token_address, treasury_address 必须为合法地址")
	}
	minAmount, err := decimal.NewFromString(cfg.MinAmount)
	if err != nil {
		return nil, fmt.Errorf("min_amount: %w", err)
	}
	attempts := cfg.VerifyAttempts
	if attempts <= 0 {
		attempts = 1
	}
	base, maxDelay := cfg.VerifyBaseDelay, cfg.VerifyMaxDelay
	if maxDelay < base {
		maxDelay = base
	}
	return &Verifier{
		client:    client,
		token:     common.HexToAddress(cfg.TokenAddress),
		treasury:  common.HexToAddress(cfg.TreasuryAddress),
		minAmount: ToBaseUnits(minAmount, cfg.TokenDecimals),
		decimals:  cfg.TokenDecimals,
		attempts:  attempts,
		backoff:   heimdall.NewExponentialBackoff(base, maxDelay, 2, base/4+time.Millisecond),
		wait:      sleepContext,
		logger:    logger,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ValidTxHash 是否为 0x 开头的 32 字节十六进制
func ValidTxHash(s string) bool {
	return txHashPattern.MatchString(strings.TrimSpace(s))
}

// VerifyTransfer 在有限次数内带指数退避地查询回执。
// 回执存在但不匹配立即返回 Verification；重试耗尽时，最后一次为 RPC 错误返回 Dependency，
// 否则（交易仍未上链）返回 Verification。
func (v *Verifier) VerifyTransfer(ctx context.Context, txHash, fromAddr string) (*Transfer, error) {
	txHash = strings.TrimSpace(txHash)
	if !ValidTxHash(txHash) {
		return nil, apperr.Validation("invalid transaction hash %q", txHash)
	}
	if !common.IsHexAddress(fromAddr) {
		return nil, apperr.Validation("invalid payer address %q", fromAddr)
	}
	hash := common.HexToHash(txHash)
	from := common.HexToAddress(fromAddr)

	var lastErr error
	for attempt := 0; attempt < v.attempts; attempt++ {
		receipt, err := v.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return v.match(receipt, hash, from)
		}
		if err == nil {
			err = ethereum.NotFound
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		entry := v.logger.WithFields(logrus.Fields{"tx_hash": txHash, "attempt": attempt + 1})
		if errors.Is(err, ethereum.NotFound) {
			entry.Debug("receipt not found yet")
		} else {
			entry.WithError(err).Warn("TransactionReceipt failed")
		}
		if attempt == v.attempts-1 {
			break
		}
		if werr := v.wait(ctx, v.backoff.Next(attempt)); werr != nil {
			lastErr = werr
			break
		}
	}

	if errors.Is(lastErr, ethereum.NotFound) {
		return nil, apperr.Verification(lastErr, "transaction %s not confirmed after %d attempts", txHash, v.attempts)
	}
	if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
		return nil, apperr.Verification(lastErr, "verification of %s interrupted", txHash)
	}
	return nil, apperr.Dependency(lastErr, "rpc unavailable while verifying %s", txHash)
}

func (v *Verifier) match(receipt *types.Receipt, hash common.Hash, from common.Address) (*Transfer, error) {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, apperr.Verification(nil, "transaction %s reverted", hash.Hex())
	}
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != v.token || len(lg.Topics) != 3 || lg.Topics[0] != sigTransfer {
			continue
		}
		if len(lg.Data) < 32 {
			continue
		}
		src := common.BytesToAddress(lg.Topics[1].Bytes())
		dst := common.BytesToAddress(lg.Topics[2].Bytes())
		value := new(big.Int).SetBytes(lg.Data[:32])
		if src != from || dst != v.treasury || value.Cmp(v.minAmount) < 0 {
			continue
		}
		return &Transfer{
			TxHash:      hash.Hex(),
			BlockNumber: lg.BlockNumber,
			LogIndex:    lg.Index,
			Token:       lg.Address.Hex(),
			From:        src.Hex(),
			To:          dst.Hex(),
			RawValue:    value.String(),
			Amount:      FromBaseUnits(value, v.decimals),
		}, nil
	}
	return nil, apperr.Verification(nil, "transaction %s has no transfer of at least %s from %s to the treasury",
		hash.Hex(), FromBaseUnits(v.minAmount, v.decimals).String(), from.Hex())
}

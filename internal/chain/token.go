package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"Dollarchain/internal/config"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gojek/heimdall/v7"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ERC20 transfer / balanceOf 最小 ABI
const erc20ABI = `[
	{"name":"transfer","type":"function","inputs":[
		{"name":"to","type":"address"},
		{"name":"amount","type":"uint256"}
	],"outputs":[{"type":"bool"}]},
	{"name":"balanceOf","type":"function","inputs":[{"name":"owner","type":"address"}],"outputs":[{"type":"uint256"}]}
]`

const defaultGasLimit = 100000

// 等待派奖回执的默认次数
const defaultConfirmAttempts = 10

// ErrTransferReverted 交易已上链但执行失败，资金未转出，可以重新发送
var ErrTransferReverted = errors.New("transfer reverted")

// TransferState 已广播交易的链上状态
type TransferState int

const (
	TransferPending   TransferState = iota // 尚无回执
	TransferSucceeded                      // 回执成功
	TransferReverted                       // 回执失败
)

func (s TransferState) String() string {
	switch s {
	case TransferSucceeded:
		return "succeeded"
	case TransferReverted:
		return "reverted"
	}
	return "pending"
}

// TxClient 派奖所需的 RPC 方法，*ethclient.Client 满足
type TxClient interface {
	ReceiptReader
	ChainID(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TokenSender 使用金库私钥发送稳定币 transfer（派奖）
type TokenSender struct {
	client   TxClient
	token    common.Address
	key      *ecdsa.PrivateKey
	decimals int32
	gasLimit uint64
	parsed   abi.ABI
	logger   *logrus.Logger

	confirmAttempts int
	backoff         heimdall.Backoff
	wait            func(ctx context.Context, d time.Duration) error
}

// NewTokenSender 由链上配置创建发送器，token_address 与 treasury_private_key 必填
func NewTokenSender(client TxClient, cfg *config.ChainConfig, logger *logrus.Logger) (*TokenSender, error) {
	if client == nil || cfg.TokenAddress == "" || cfg.TreasuryPrivateKey == "" {
		return nil, fmt.Errorf("rpc client, token_address, treasury_private_key 必填")
	}
	key, err := parsePrivateKey(cfg.TreasuryPrivateKey)
	if err != nil {
		return nil, err
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, err
	}
	gas := cfg.PayoutGasLimit
	if gas == 0 {
		gas = defaultGasLimit
	}
	attempts := cfg.PayoutConfirmAttempts
	if attempts <= 0 {
		attempts = defaultConfirmAttempts
	}
	base, maxDelay := cfg.VerifyBaseDelay, cfg.VerifyMaxDelay
	if base <= 0 {
		base = time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	return &TokenSender{
		client:          client,
		token:           common.HexToAddress(cfg.TokenAddress),
		key:             key,
		decimals:        cfg.TokenDecimals,
		gasLimit:        gas,
		parsed:          parsed,
		logger:          logger,
		confirmAttempts: attempts,
		backoff:         heimdall.NewExponentialBackoff(base, maxDelay, 2, base/4+time.Millisecond),
		wait:            sleepContext,
	}, nil
}

func parsePrivateKey(keyHex string) (*ecdsa.PrivateKey, error) {
	keyHex = strings.TrimPrefix(strings.TrimSpace(keyHex), "0x")
	keyBuf, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode treasury key: %w", err)
	}
	key, err := crypto.ToECDSA(keyBuf)
	if err != nil {
		return nil, fmt.Errorf("to ecdsa: %w", err)
	}
	return key, nil
}

// From 金库地址
func (s *TokenSender) From() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// BalanceOf 查询地址的代币余额
func (s *TokenSender) BalanceOf(ctx context.Context, owner common.Address) (decimal.Decimal, error) {
	data, err := s.parsed.Pack("balanceOf", owner)
	if err != nil {
		return decimal.Zero, err
	}
	res, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &s.token, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("call balanceOf: %w", err)
	}
	if len(res) < 32 {
		return decimal.Zero, fmt.Errorf("balanceOf result length %d", len(res))
	}
	return FromBaseUnits(new(big.Int).SetBytes(res[:32]), s.decimals), nil
}

// TreasuryBalance 金库地址的代币余额
func (s *TokenSender) TreasuryBalance(ctx context.Context) (decimal.Decimal, error) {
	return s.BalanceOf(ctx, s.From())
}

// Transfer 发送 transfer(to, amount) 并等待回执成功，返回交易哈希。
// 交易广播之后的任何错误都会连同哈希一起返回，调用方据此避免重复发送；
// 回执失败时错误包装 ErrTransferReverted。
func (s *TokenSender) Transfer(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("invalid recipient %q", to)
	}
	value := ToBaseUnits(amount, s.decimals)
	if value.Sign() <= 0 {
		return "", fmt.Errorf("amount 必须大于 0")
	}
	data, err := s.parsed.Pack("transfer", common.HexToAddress(to), value)
	if err != nil {
		return "", fmt.Errorf("pack transfer: %w", err)
	}

	chainID, err := s.client.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("chain id: %w", err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}
	nonce, err := s.client.PendingNonceAt(ctx, s.From())
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      s.gasLimit,
		To:       &s.token,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), s.key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}
	txHash := signed.Hash().Hex()
	s.logger.WithFields(logrus.Fields{"tx_hash": txHash, "to": to, "amount": amount.String()}).Info("payout transfer sent")

	for attempt := 0; attempt < s.confirmAttempts; attempt++ {
		state, err := s.TransferStatus(ctx, txHash)
		switch {
		case err != nil:
			s.logger.WithError(err).WithFields(logrus.Fields{"tx_hash": txHash, "attempt": attempt + 1}).Warn("TransactionReceipt failed")
		case state == TransferSucceeded:
			return txHash, nil
		case state == TransferReverted:
			return txHash, fmt.Errorf("%w, tx: %s", ErrTransferReverted, txHash)
		}
		if attempt == s.confirmAttempts-1 {
			break
		}
		if werr := s.wait(ctx, s.backoff.Next(attempt)); werr != nil {
			return txHash, fmt.Errorf("wait receipt: %w", werr)
		}
	}
	return txHash, fmt.Errorf("transfer not confirmed in time, tx: %s", txHash)
}

// TransferStatus 查询已广播交易的回执；尚未上链时为 TransferPending
func (s *TokenSender) TransferStatus(ctx context.Context, txHash string) (TransferState, error) {
	if !ValidTxHash(txHash) {
		return TransferPending, fmt.Errorf("invalid transaction hash %q", txHash)
	}
	receipt, err := s.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) || (err == nil && receipt == nil) {
		return TransferPending, nil
	}
	if err != nil {
		return TransferPending, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return TransferReverted, nil
	}
	return TransferSucceeded, nil
}

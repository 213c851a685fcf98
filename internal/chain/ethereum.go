package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/keyward/keyward/internal/retry"
)

// Minimal ABI for the wallet-registry contract's ownership transfer.
const registryABI = `[
	{"constant":false,"inputs":[{"name":"wallet","type":"address"},{"name":"newOwner","type":"address"},{"name":"authorization","type":"bytes"}],"name":"transferOwnership","outputs":[],"type":"function"}
]`

// DefaultGasLimit for ownership transfers when estimation fails.
const DefaultGasLimit = uint64(150000)

// Retry policy for read-only RPC calls. Submission is never retried here:
// the state machine owns that decision.
const (
	rpcReadAttempts = 3
	rpcReadBackoff  = 200 * time.Millisecond
)

// EthClient abstracts the go-ethereum client for testing.
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Close()
}

// Config for creating an Ethereum-backed transferor.
type Config struct {
	RPCURL           string
	PrivateKey       string // Hex string, with or without 0x prefix
	ChainID          int64
	RegistryContract string
}

// Option configures the transferor.
type Option func(*EthTransferor)

// WithClient sets a custom Ethereum client (useful for testing).
func WithClient(client EthClient) Option {
	return func(t *EthTransferor) {
		t.client = client
	}
}

// EthTransferor submits ownership transfers through a wallet-registry contract.
type EthTransferor struct {
	client      EthClient
	privateKey  *ecdsa.PrivateKey
	address     common.Address
	chainID     *big.Int
	registry    common.Address
	registryABI abi.ABI
}

var _ OwnershipTransferor = (*EthTransferor)(nil)

// NewEthTransferor creates an Ethereum-backed ownership transferor.
func NewEthTransferor(cfg Config, opts ...Option) (*EthTransferor, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}

	parsedABI, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry ABI: %w", err)
	}

	t := &EthTransferor{
		privateKey:  privateKey,
		address:     crypto.PubkeyToAddress(*publicKey),
		chainID:     big.NewInt(cfg.ChainID),
		registry:    common.HexToAddress(cfg.RegistryContract),
		registryABI: parsedABI,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		t.client = client
	}

	return t, nil
}

func validateConfig(cfg Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	key := strings.TrimPrefix(cfg.PrivateKey, "0x")
	if len(key) != 64 {
		return fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("chain ID required")
	}
	if !common.IsHexAddress(cfg.RegistryContract) {
		return fmt.Errorf("%w: registry contract %q", ErrInvalidAddress, cfg.RegistryContract)
	}
	return nil
}

// Address returns the submitting account's address.
func (t *EthTransferor) Address() string {
	return t.address.Hex()
}

// TransferOwnership submits the ownership change and returns the tx hash.
// The authorization is the owner's signature material, passed to the
// contract as opaque bytes.
func (t *EthTransferor) TransferOwnership(ctx context.Context, wallet, newOwner, authorization string) (*TransferResult, error) {
	if !common.IsHexAddress(wallet) {
		return nil, fmt.Errorf("%w: wallet %q", ErrInvalidAddress, wallet)
	}
	if !common.IsHexAddress(newOwner) {
		return nil, fmt.Errorf("%w: new owner %q", ErrInvalidAddress, newOwner)
	}

	auth, err := hex.DecodeString(strings.TrimPrefix(authorization, "0x"))
	if err != nil {
		return nil, &TransferError{Op: "decode_authorization", Err: err}
	}

	data, err := t.registryABI.Pack("transferOwnership",
		common.HexToAddress(wallet), common.HexToAddress(newOwner), auth)
	if err != nil {
		return nil, &TransferError{Op: "pack", Err: err}
	}

	// Read-only RPC calls are safe to retry on transient failures.
	var nonce uint64
	if err := retry.Do(ctx, rpcReadAttempts, rpcReadBackoff, func() error {
		var err error
		nonce, err = t.client.PendingNonceAt(ctx, t.address)
		return err
	}); err != nil {
		return nil, &TransferError{Op: "nonce", Err: err}
	}

	var gasPrice *big.Int
	if err := retry.Do(ctx, rpcReadAttempts, rpcReadBackoff, func() error {
		var err error
		gasPrice, err = t.client.SuggestGasPrice(ctx)
		return err
	}); err != nil {
		return nil, &TransferError{Op: "gas_price", Err: err}
	}

	gasLimit, err := t.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  t.address,
		To:    &t.registry,
		Value: big.NewInt(0),
		Data:  data,
	})
	if err != nil {
		// Use default if estimation fails
		gasLimit = DefaultGasLimit
	}

	tx := types.NewTransaction(nonce, t.registry, big.NewInt(0), gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(t.chainID), t.privateKey)
	if err != nil {
		return nil, &TransferError{Op: "sign", Err: err}
	}

	if err := t.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, &TransferError{Op: "send", TxHash: signedTx.Hash().Hex(), Err: err}
	}

	return &TransferResult{
		TxHash:   signedTx.Hash().Hex(),
		Wallet:   common.HexToAddress(wallet).Hex(),
		NewOwner: common.HexToAddress(newOwner).Hex(),
		Nonce:    nonce,
	}, nil
}

// Close releases the underlying RPC connection.
func (t *EthTransferor) Close() {
	if t.client != nil {
		t.client.Close()
	}
}

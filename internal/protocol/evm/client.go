/*

This package implements the protocol interfaces against EVM contracts: an
Aave-v3-style lending pool, a Uniswap-v3-style position NFT manager and swap
router, a Chainlink-style price feed, and allowance-based custody pulls.

All transactions are signed by one working account and serialized through a
single client so nonces never race.

*/

package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/loopyield/lfm/internal/logger"
	"github.com/loopyield/lfm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidKey        = errors.New("signer key is invalid")
	ErrInvalidChainID    = errors.New("chain ID is invalid")
	ErrTransactionFailed = errors.New("transaction reverted")
	ErrEventNotFound     = errors.New("expected event not found in receipt")
)

// Client wraps the RPC connection and the strategy's working account.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	signer  common.Address
	logger  zerolog.Logger

	// txMu serializes transaction submission so pending nonces never race.
	txMu sync.Mutex
}

// NewClient dials the node and prepares the working account signer.
func NewClient(rpcURL, privateKeyHex string, chainID uint64) (*Client, error) {
	if chainID == 0 {
		return nil, ErrInvalidChainID
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, errors.Join(ErrInvalidKey, err)
	}

	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial node at %s: %w", rpcURL, err)
	}

	client := &Client{
		eth:     eth,
		chainID: new(big.Int).SetUint64(chainID),
		key:     key,
		signer:  crypto.PubkeyToAddress(key.PublicKey),
		logger:  logger.GetForComponent("evm_client"),
	}

	client.logger.Info().
		Str("signer", client.signer.Hex()).
		Uint64("chainID", chainID).
		Msg("EVM client initialized")

	return client, nil
}

// Signer returns the working account address.
func (c *Client) Signer() common.Address {
	return c.signer
}

// Backend returns the underlying RPC client for event subscriptions.
func (c *Client) Backend() *ethclient.Client {
	return c.eth
}

// Close tears down the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// callOpts builds read-only call options bound to ctx.
func (c *Client) callOpts(ctx context.Context) *bind.CallOpts {
	return &bind.CallOpts{Context: ctx}
}

// transactOpts builds signing options bound to ctx. Gas price and nonce are
// left to the node.
func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to build transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// transact submits one contract call and waits for it to be mined, holding
// the nonce lock for the whole round trip.
func (c *Client) transact(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) (*ethtypes.Receipt, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	opts, err := c.transactOpts(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := contract.Transact(opts, method, args...)
	if err != nil {
		return nil, errors.Join(types.ErrExternalProtocol, fmt.Errorf("%s submission failed: %w", method, err))
	}

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, errors.Join(types.ErrExternalProtocol, fmt.Errorf("%s not mined: %w", method, err))
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, errors.Join(types.ErrExternalProtocol, ErrTransactionFailed, fmt.Errorf("method %s, tx %s", method, tx.Hash().Hex()))
	}

	c.logger.Debug().
		Str("method", method).
		Str("tx", tx.Hash().Hex()).
		Uint64("gasUsed", receipt.GasUsed).
		Msg("Transaction mined")

	return receipt, nil
}

// boundContract parses an ABI and binds it to an address on this client.
func (c *Client) boundContract(address common.Address, abiJSON string) (*bind.BoundContract, abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, abi.ABI{}, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return bind.NewBoundContract(address, parsed, c.eth, c.eth, c.eth), parsed, nil
}

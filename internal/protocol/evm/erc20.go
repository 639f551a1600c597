package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/loopyield/lfm/internal/types"
)

const erc20ABI = `[
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// erc20 gives the adapters a shared token surface. Contracts are bound
// lazily and cached per address; operations for different owners run
// concurrently, so the cache is mutex-guarded.
type erc20 struct {
	client *Client

	mu        sync.Mutex
	contracts map[common.Address]*bind.BoundContract
}

func newERC20(client *Client) *erc20 {
	return &erc20{
		client:    client,
		contracts: make(map[common.Address]*bind.BoundContract),
	}
}

func (e *erc20) contract(token common.Address) (*bind.BoundContract, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.contracts[token]; ok {
		return c, nil
	}
	c, _, err := e.client.boundContract(token, erc20ABI)
	if err != nil {
		return nil, err
	}
	e.contracts[token] = c
	return c, nil
}

func (e *erc20) balanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	c, err := e.contract(token)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	if err := c.Call(e.client.callOpts(ctx), &out, "balanceOf", account); err != nil {
		return nil, errors.Join(types.ErrExternalProtocol, fmt.Errorf("balanceOf %s failed: %w", token.Hex(), err))
	}
	return out[0].(*big.Int), nil
}

func (e *erc20) allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	c, err := e.contract(token)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	if err := c.Call(e.client.callOpts(ctx), &out, "allowance", owner, spender); err != nil {
		return nil, errors.Join(types.ErrExternalProtocol, fmt.Errorf("allowance %s failed: %w", token.Hex(), err))
	}
	return out[0].(*big.Int), nil
}

func (e *erc20) transfer(ctx context.Context, token, to common.Address, amount *big.Int) error {
	c, err := e.contract(token)
	if err != nil {
		return err
	}
	_, err = e.client.transact(ctx, c, "transfer", to, amount)
	return err
}

func (e *erc20) transferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
	c, err := e.contract(token)
	if err != nil {
		return err
	}
	_, err = e.client.transact(ctx, c, "transferFrom", from, to, amount)
	return err
}

// ensureApproval tops up the working account's allowance toward spender when
// the current allowance does not cover amount.
func (e *erc20) ensureApproval(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	current, err := e.allowance(ctx, token, e.client.signer, spender)
	if err != nil {
		return err
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}
	c, err := e.contract(token)
	if err != nil {
		return err
	}
	_, err = e.client.transact(ctx, c, "approve", spender, amount)
	return err
}

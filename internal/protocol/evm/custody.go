package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"cosmossdk.io/math"

	"github.com/loopyield/lfm/internal/types"
)

const erc721ABI = `[
  {"name":"ownerOf","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"name":"getApproved","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"name":"isApprovedForAll","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]}
]`

// Custody moves ERC20 balances and position certificates between user
// wallets and the working account. Pulls rely on prior approvals granted by
// the owner; a missing approval is surfaced before any transaction is sent.
type Custody struct {
	client *Client
	tokens *erc20
	nft    *bind.BoundContract
}

func NewCustody(client *Client, positionNFT common.Address) (*Custody, error) {
	nft, _, err := client.boundContract(positionNFT, erc721ABI)
	if err != nil {
		return nil, err
	}
	return &Custody{
		client: client,
		tokens: newERC20(client),
		nft:    nft,
	}, nil
}

// PullAsset moves amount of asset from owner into the working account.
func (c *Custody) PullAsset(ctx context.Context, owner, asset common.Address, amount math.Int) error {
	raw := amount.BigInt()
	allowed, err := c.tokens.allowance(ctx, asset, owner, c.client.signer)
	if err != nil {
		return err
	}
	if allowed.Cmp(raw) < 0 {
		return errors.Join(types.ErrInsufficientApproval,
			fmt.Errorf("asset %s: approved %s, need %s", asset.Hex(), allowed, raw))
	}
	return c.tokens.transferFrom(ctx, asset, owner, c.client.signer, raw)
}

// PushAsset sends amount of asset from the working account to recipient.
func (c *Custody) PushAsset(ctx context.Context, recipient, asset common.Address, amount math.Int) error {
	return c.tokens.transfer(ctx, asset, recipient, amount.BigInt())
}

// PullCertificate moves a position certificate from owner into the working
// account. The working account must be the token's approved operator.
func (c *Custody) PullCertificate(ctx context.Context, owner common.Address, id types.CertificateID) error {
	tokenID := new(big.Int).SetUint64(uint64(id))

	approved, err := c.certificateApproved(ctx, owner, tokenID)
	if err != nil {
		return err
	}
	if !approved {
		return errors.Join(types.ErrInsufficientApproval,
			fmt.Errorf("certificate %d not approved for working account", id))
	}

	_, err = c.client.transact(ctx, c.nft, "transferFrom", owner, c.client.signer, tokenID)
	return err
}

// PushCertificate returns a certificate from the working account to owner.
func (c *Custody) PushCertificate(ctx context.Context, owner common.Address, id types.CertificateID) error {
	tokenID := new(big.Int).SetUint64(uint64(id))
	_, err := c.client.transact(ctx, c.nft, "transferFrom", c.client.signer, owner, tokenID)
	return err
}

func (c *Custody) certificateApproved(ctx context.Context, owner common.Address, tokenID *big.Int) (bool, error) {
	var out []interface{}
	if err := c.nft.Call(c.client.callOpts(ctx), &out, "getApproved", tokenID); err != nil {
		return false, errors.Join(types.ErrExternalProtocol, fmt.Errorf("getApproved failed: %w", err))
	}
	if out[0].(common.Address) == c.client.signer {
		return true, nil
	}

	out = out[:0]
	if err := c.nft.Call(c.client.callOpts(ctx), &out, "isApprovedForAll", owner, c.client.signer); err != nil {
		return false, errors.Join(types.ErrExternalProtocol, fmt.Errorf("isApprovedForAll failed: %w", err))
	}
	return out[0].(bool), nil
}

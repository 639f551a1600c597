package evm

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

// The adapters are shared across concurrent lifecycle operations, so their
// lazy caches must tolerate parallel access. These tests fail under the race
// detector if the caches lose their locking.

func TestERC20ContractCacheConcurrentAccess(t *testing.T) {
	tokens := newERC20(&Client{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				addr := common.BigToAddress(big.NewInt(int64(n*50 + j)))
				if _, err := tokens.contract(addr); err != nil {
					t.Errorf("contract bind failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	// Every binding must be cached exactly once.
	if got := len(tokens.contracts); got != 400 {
		t.Fatalf("expected 400 cached contracts, got %d", got)
	}
}

func TestPoolMetaCacheConcurrentReads(t *testing.T) {
	positions := &LiquidityPositions{
		client: &Client{},
		pools:  make(map[common.Address]poolMeta),
	}

	pool := common.BigToAddress(big.NewInt(1))
	want := poolMeta{
		token0: common.BigToAddress(big.NewInt(2)),
		token1: common.BigToAddress(big.NewInt(3)),
		fee:    big.NewInt(3000),
	}
	positions.poolsMu.Lock()
	positions.pools[pool] = want
	positions.poolsMu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				meta, err := positions.poolMeta(context.Background(), pool)
				if err != nil {
					t.Errorf("cached pool lookup failed: %v", err)
					return
				}
				if meta.token0 != want.token0 || meta.token1 != want.token1 {
					t.Error("cached pool metadata corrupted")
					return
				}
			}
		}()
	}
	wg.Wait()
}

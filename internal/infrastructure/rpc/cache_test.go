package rpc_test

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/indexkit/indexcore/internal/infrastructure/rpc"
)

type memCacheStore struct {
	mu    sync.Mutex
	items map[string]string
}

func newMemCacheStore() *memCacheStore {
	return &memCacheStore{items: make(map[string]string)}
}

func (m *memCacheStore) key(chainID int64, blockNumber *big.Int, key string) string {
	return fmt.Sprintf("%d:%s:%s", chainID, blockNumber.String(), key)
}

func (m *memCacheStore) Get(ctx context.Context, chainID int64, blockNumber *big.Int, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[m.key(chainID, blockNumber, key)]
	return v, ok, nil
}

func (m *memCacheStore) Put(ctx context.Context, chainID int64, blockNumber *big.Int, key, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[m.key(chainID, blockNumber, key)] = result
	return nil
}

type countingTransport struct {
	calls atomic.Int64
}

func (c *countingTransport) Call(ctx context.Context, network string, req rpc.Request) (rpc.Response, error) {
	c.calls.Add(1)
	return rpc.Response{Result: "0xdeadbeef"}, nil
}

func TestCache_HitsAvoidUpstreamCall(t *testing.T) {
	transport := &countingTransport{}
	cache := rpc.NewCache(transport, newMemCacheStore(), 1)

	req := rpc.Request{Method: "eth_getBalance", Params: []any{"0xABC", "latest"}}
	_, err := cache.Call(context.Background(), "mainnet", req)
	require.NoError(t, err)
	_, err = cache.Call(context.Background(), "mainnet", req)
	require.NoError(t, err)

	require.EqualValues(t, 1, transport.calls.Load())
}

func TestCache_ConcurrentIdenticalMissesCollapse(t *testing.T) {
	transport := &countingTransport{}
	cache := rpc.NewCache(transport, newMemCacheStore(), 1)

	req := rpc.Request{Method: "eth_getCode", Params: []any{"0xABC", "0x10"}}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Call(context.Background(), "mainnet", req)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, transport.calls.Load())
}

func TestCache_NonCacheableMethodsBypassCache(t *testing.T) {
	transport := &countingTransport{}
	cache := rpc.NewCache(transport, newMemCacheStore(), 1)

	req := rpc.Request{Method: "eth_sendRawTransaction", Params: []any{"0xdead"}}
	_, err := cache.Call(context.Background(), "mainnet", req)
	require.NoError(t, err)
	_, err = cache.Call(context.Background(), "mainnet", req)
	require.NoError(t, err)

	require.EqualValues(t, 2, transport.calls.Load())
}

func TestCache_DistinctBlockNumbersDoNotCollide(t *testing.T) {
	transport := &countingTransport{}
	cache := rpc.NewCache(transport, newMemCacheStore(), 1)

	req1 := rpc.Request{Method: "eth_getBalance", Params: []any{"0xABC", "0x1"}}
	req2 := rpc.Request{Method: "eth_getBalance", Params: []any{"0xABC", "0x2"}}

	_, err := cache.Call(context.Background(), "mainnet", req1)
	require.NoError(t, err)
	_, err = cache.Call(context.Background(), "mainnet", req2)
	require.NoError(t, err)

	require.EqualValues(t, 2, transport.calls.Load())
}

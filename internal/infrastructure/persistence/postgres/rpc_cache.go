package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const rpcCacheTable = "rpc_cache"

// RpcCacheStore implements rpc.CacheStore against the public.rpc_cache
// table named by spec.md §6.
type RpcCacheStore struct {
	pool *pgxpool.Pool
}

func NewRpcCacheStore(pool *pgxpool.Pool) *RpcCacheStore {
	return &RpcCacheStore{pool: pool}
}

// EnsureTable creates the rpc_cache table if it does not already exist.
func (s *RpcCacheStore) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		"chainId" integer NOT NULL,
		"blockNumber" numeric(78,0) NOT NULL,
		request text NOT NULL,
		result text NOT NULL,
		PRIMARY KEY ("chainId", "blockNumber", request)
	)`, qualify(publicSchema, rpcCacheTable))
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// Get implements rpc.CacheStore.
func (s *RpcCacheStore) Get(ctx context.Context, chainID int64, blockNumber *big.Int, key string) (string, bool, error) {
	query := fmt.Sprintf(`SELECT result FROM %s WHERE "chainId" = $1 AND "blockNumber" = $2 AND request = $3`,
		qualify(publicSchema, rpcCacheTable))
	var result string
	err := s.pool.QueryRow(ctx, query, chainID, blockNumber.String(), key).Scan(&result)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("rpc cache get: %w", err)
	}
	return result, true, nil
}

// Put implements rpc.CacheStore.
func (s *RpcCacheStore) Put(ctx context.Context, chainID int64, blockNumber *big.Int, key, result string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s ("chainId", "blockNumber", request, result)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ("chainId", "blockNumber", request) DO NOTHING`,
		qualify(publicSchema, rpcCacheTable))
	_, err := s.pool.Exec(ctx, query, chainID, blockNumber.String(), key, result)
	if err != nil {
		return fmt.Errorf("rpc cache put: %w", err)
	}
	return nil
}

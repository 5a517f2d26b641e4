package relayer

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/darkbet/darkbet/internal/domain"
)

// depositTopic is the topic0 of Deposited(address indexed user,
// uint256 amount, uint256 newBalance) emitted by the liquidity pool.
var depositTopic = ethcrypto.Keccak256Hash([]byte("Deposited(address,uint256,uint256)"))

// ChainReader is the subset of the Ethereum client the watcher needs. It is
// satisfied by *ethclient.Client.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// DepositWatcher reads Deposited events from the liquidity pool contract.
type DepositWatcher struct {
	chain ChainReader
	pool  common.Address
}

// NewDepositWatcher creates a watcher for the pool contract at poolAddr.
func NewDepositWatcher(chain ChainReader, poolAddr string) *DepositWatcher {
	return &DepositWatcher{
		chain: chain,
		pool:  common.HexToAddress(poolAddr),
	}
}

// Head returns the current chain head block number.
func (w *DepositWatcher) Head(ctx context.Context) (uint64, error) {
	head, err := w.chain.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("relayer: fetching head: %w", err)
	}
	return head, nil
}

// DepositsInRange fetches all Deposited events in the inclusive block range
// [from, to]. A log that does not decode cleanly fails the whole range:
// silently dropping a deposit would strand user funds, so the cycle is
// retried instead.
func (w *DepositWatcher) DepositsInRange(ctx context.Context, from, to uint64) ([]domain.DepositEvent, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{w.pool},
		Topics:    [][]common.Hash{{depositTopic}},
	}

	logs, err := w.chain.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("relayer: filtering logs %d-%d: %w", from, to, err)
	}

	events := make([]domain.DepositEvent, 0, len(logs))
	for _, lg := range logs {
		ev, err := parseDeposit(lg)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// parseDeposit decodes one Deposited log. The user is the first indexed
// topic; the amount is the first data word.
func parseDeposit(lg types.Log) (domain.DepositEvent, error) {
	if len(lg.Topics) < 2 || len(lg.Data) < 32 {
		return domain.DepositEvent{}, fmt.Errorf("relayer: malformed deposit log in tx %s", lg.TxHash.Hex())
	}

	amount := new(big.Int).SetBytes(lg.Data[:32])
	if !amount.IsInt64() {
		return domain.DepositEvent{}, fmt.Errorf("relayer: deposit amount %s in tx %s exceeds ledger range", amount, lg.TxHash.Hex())
	}

	return domain.DepositEvent{
		ID:          fmt.Sprintf("%s:%d", lg.TxHash.Hex(), lg.Index),
		User:        strings.ToLower(common.BytesToAddress(lg.Topics[1].Bytes()).Hex()),
		Amount:      amount.Int64(),
		BlockNumber: lg.BlockNumber,
	}, nil
}

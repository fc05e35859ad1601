package submit

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"swaprouter/internal/model"
)

// PrivateTx is a signed transaction bound for a protected relay.
type PrivateTx struct {
	Raw            []byte
	MaxBlockNumber uint64
	Refund         *model.Refund
}

// Relay delivers signed transactions privately.
type Relay interface {
	SendPrivateTransaction(ctx context.Context, tx PrivateTx) (common.Hash, error)
}

type privateTxArgs struct {
	Tx             hexutil.Bytes   `json:"tx"`
	MaxBlockNumber *hexutil.Uint64 `json:"maxBlockNumber,omitempty"`
	Preferences    *preferences    `json:"preferences,omitempty"`
}

type preferences struct {
	Fast     bool      `json:"fast"`
	Validity *validity `json:"validity,omitempty"`
}

type validity struct {
	Refund []refundConfig `json:"refund"`
}

type refundConfig struct {
	Address common.Address `json:"address"`
	Percent int            `json:"percent"`
}

// RelayClient speaks eth_sendPrivateTransaction.
type RelayClient struct {
	client *rpc.Client
}

func DialRelay(ctx context.Context, url string) (*RelayClient, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return &RelayClient{client: client}, nil
}

// NewRelayClient wraps an existing RPC client.
func NewRelayClient(client *rpc.Client) *RelayClient {
	return &RelayClient{client: client}
}

func (r *RelayClient) Close() {
	r.client.Close()
}

func (r *RelayClient) SendPrivateTransaction(ctx context.Context, tx PrivateTx) (common.Hash, error) {
	args := privateTxArgs{Tx: tx.Raw}
	if tx.MaxBlockNumber > 0 {
		maxBlock := hexutil.Uint64(tx.MaxBlockNumber)
		args.MaxBlockNumber = &maxBlock
	}
	prefs := &preferences{Fast: true}
	if tx.Refund != nil && tx.Refund.Percent > 0 {
		prefs.Validity = &validity{Refund: []refundConfig{{Address: tx.Refund.Recipient, Percent: tx.Refund.Percent}}}
	}
	args.Preferences = prefs

	var hash common.Hash
	if err := r.client.CallContext(ctx, &hash, "eth_sendPrivateTransaction", args); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

package chain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type pendingSource struct {
	pendingFor int
	failFor    int
	calls      int
	err        error
}

func (s *pendingSource) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	s.calls++
	if s.err != nil && (s.failFor == 0 || s.calls <= s.failFor) {
		return nil, s.err
	}
	if s.calls <= s.pendingFor {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{TxHash: hash, Status: types.ReceiptStatusSuccessful}, nil
}

func TestPollReceiptWaitsForInclusion(t *testing.T) {
	src := &pendingSource{pendingFor: 2}
	hash := common.HexToHash("0x01")

	receipt, err := PollReceipt(context.Background(), src, hash, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.TxHash != hash || src.calls != 3 {
		t.Fatalf("receipt mismatch: %+v after %d calls", receipt, src.calls)
	}
}

func TestPollReceiptDeadline(t *testing.T) {
	src := &pendingSource{pendingFor: 1 << 30}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := PollReceipt(ctx, src, common.HexToHash("0x02"), time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestPollReceiptKeepsPollingThroughErrors(t *testing.T) {
	src := &pendingSource{err: errors.New("502 bad gateway"), failFor: 2}
	hash := common.HexToHash("0x03")

	receipt, err := PollReceipt(context.Background(), src, hash, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.TxHash != hash || src.calls != 3 {
		t.Fatalf("receipt mismatch: %+v after %d calls", receipt, src.calls)
	}
}

func TestPollReceiptErrorUntilDeadline(t *testing.T) {
	src := &pendingSource{err: errors.New("boom")}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := PollReceipt(ctx, src, common.HexToHash("0x04"), time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("last rpc error missing from %q", err)
	}
	if src.calls < 2 {
		t.Fatalf("expected polling to continue, got %d calls", src.calls)
	}
}

func TestReceiptFunc(t *testing.T) {
	hash := common.HexToHash("0x05")
	var src ReceiptSource = ReceiptFunc(func(_ context.Context, h common.Hash) (*types.Receipt, error) {
		return &types.Receipt{TxHash: h}, nil
	})
	receipt, err := PollReceipt(context.Background(), src, hash, time.Millisecond)
	if err != nil || receipt.TxHash != hash {
		t.Fatalf("unexpected result %+v: %v", receipt, err)
	}
}

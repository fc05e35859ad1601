package submit

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/external"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer turns an unsigned transaction into a signed envelope. Key material
// stays with the signer.
type Signer interface {
	SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// RemoteSigner delegates signing to an external signer (clef) over
// account_signTransaction.
type RemoteSigner struct {
	ext *external.ExternalSigner
}

// NewRemoteSigner dials the signer endpoint and checks it is reachable.
func NewRemoteSigner(endpoint string) (*RemoteSigner, error) {
	ext, err := external.NewExternalSigner(endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect signer: %w", err)
	}
	return &RemoteSigner{ext: ext}, nil
}

func (s *RemoteSigner) SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	signed, err := s.ext.SignTx(accounts.Account{Address: from}, tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if signed == nil {
		return nil, fmt.Errorf("sign tx: signer returned no transaction")
	}
	return signed, nil
}

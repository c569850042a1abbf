package gateway

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces secp256k1 signatures over envelope digests
//
//go:generate mockgen -source=signer.go -destination=../mocks/gateway_signer.go -package=mocks -mock_names=Signer=MockSigner
type Signer interface {
	// Sign signs a 32-byte digest, returning a 65-byte signature with the
	// recovery id offset to 27/28 as on-chain ecrecover expects
	Sign(digest common.Hash) ([]byte, error)

	// Address returns the signing address verifiers compare against
	Address() common.Address
}

// ECDSASigner signs envelope digests with an in-memory secp256k1 key
type ECDSASigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewECDSASigner creates a signer from a hex-encoded private key.
// The 0x prefix is optional.
func NewECDSASigner(hexKey string) (*ECDSASigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signer key: %w", err)
	}

	return &ECDSASigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Sign signs a digest with the gateway key
func (s *ECDSASigner) Sign(digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}

	// crypto.Sign yields V in {0,1}; contracts expect {27,28}
	sig[64] += 27
	return sig, nil
}

// Address returns the signing address
func (s *ECDSASigner) Address() common.Address {
	return s.address
}

package gateway

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rockfridrich/villa-sub002/internal/domain"
	"github.com/rockfridrich/villa-sub002/internal/signing"
)

// Envelope is a signed resolution answer. The verifier contract accepts the
// result only while the signature checks out and the expiry has not passed,
// which is what lets off-chain answers stand in for on-chain state.
type Envelope struct {
	// Result is the ABI-encoded answer: an address for forward resolution,
	// a string for reverse resolution
	Result hexutil.Bytes `json:"result"`
	// Expires is the unix timestamp after which verifiers must reject the envelope
	Expires uint64 `json:"expires"`
	// Signature is the 65-byte gateway signature over the envelope digest
	Signature hexutil.Bytes `json:"signature"`
	// Signer is the gateway signing address, advertised for verifier configuration
	Signer common.Address `json:"signer"`
	// RequestHash is keccak256 of the request bytes the envelope answers
	RequestHash common.Hash `json:"request_hash"`
}

// Request type tags. The verifier rebuilds request bytes from what it asked
// for, so the encoding is part of the wire contract.
const (
	requestTagName    = 0x01
	requestTagAddress = 0x02
)

// EncodeNameRequest encodes a forward-resolution request: tag || namehash
func EncodeNameRequest(nameHash common.Hash) []byte {
	request := make([]byte, 0, 1+common.HashLength)
	request = append(request, requestTagName)
	return append(request, nameHash.Bytes()...)
}

// EncodeAddressRequest encodes a reverse-resolution request: tag || address
func EncodeAddressRequest(address common.Address) []byte {
	request := make([]byte, 0, 1+common.AddressLength)
	request = append(request, requestTagAddress)
	return append(request, address.Bytes()...)
}

// EnvelopeDigest computes the digest the verifier contract checks:
//
//	keccak256(0x1900 || verifier || uint64be(expires) || keccak256(request) || keccak256(result))
//
// 0x1900 is the EIP-191 version-0 separator; binding the verifier address in
// keeps an envelope signed for one contract from validating on another.
func EnvelopeDigest(verifier common.Address, expires uint64, request []byte, result []byte) common.Hash {
	expiryBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(expiryBytes, expires)

	return crypto.Keccak256Hash(
		[]byte{0x19, 0x00},
		verifier.Bytes(),
		expiryBytes,
		crypto.Keccak256(request),
		crypto.Keccak256(result),
	)
}

// VerifyEnvelope checks an envelope the way the on-chain verifier does:
// expiry first, then request binding, then signature recovery against the
// expected gateway signer. An expired envelope fails even when its content
// is intact.
func VerifyEnvelope(env *Envelope, request []byte, verifier common.Address, expectedSigner common.Address, now time.Time) error {
	if uint64(now.Unix()) > env.Expires {
		return fmt.Errorf("%w: expired at %d, now %d", domain.ErrEnvelopeExpired, env.Expires, now.Unix())
	}

	if crypto.Keccak256Hash(request) != env.RequestHash {
		return fmt.Errorf("%w: envelope does not answer this request", domain.ErrInvalidSignature)
	}

	digest := EnvelopeDigest(verifier, env.Expires, request, env.Result)
	recovered, err := signing.RecoverSigner(digest, env.Signature)
	if err != nil {
		return err
	}

	if recovered != expectedSigner {
		return fmt.Errorf("%w: recovered signer %s, expected %s",
			domain.ErrInvalidSignature, recovered.Hex(), expectedSigner.Hex())
	}

	return nil
}

package signing

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rockfridrich/villa-sub002/internal/adapter"
	"github.com/rockfridrich/villa-sub002/internal/domain"
)

// migrationAuthPrefix domain-separates migration authorizations from every
// other message a wallet might be asked to sign.
const migrationAuthPrefix = "VILLA_NICKNAME_MIGRATION"

// signatureLength is the length of a secp256k1 signature: r (32) + s (32) + v (1)
const signatureLength = 65

// ClaimIntent is the payload a wallet signs to prove it requested a nickname.
// The owner address is EIP-55 checksummed before canonicalization so clients
// and server hash identical bytes.
type ClaimIntent struct {
	Nickname string `json:"nickname"`
	Owner    string `json:"owner"`
}

// Verifier checks wallet signatures over claim intents. Payloads are
// canonicalized with RFC 8785 (JCS) and hashed as EIP-191 personal messages.
type Verifier struct {
	json adapter.JSON
	jcs  adapter.JCS
}

// NewVerifier creates a new signature verifier
func NewVerifier(js adapter.JSON, canonicalizer adapter.JCS) *Verifier {
	return &Verifier{
		json: js,
		jcs:  canonicalizer,
	}
}

// ClaimIntentDigest computes the EIP-191 digest of the canonical claim intent.
// The nickname is hashed exactly as submitted; normalization happens at the
// service layer, not in the signed payload.
func (v *Verifier) ClaimIntentDigest(nickname string, owner common.Address) (common.Hash, error) {
	intent := ClaimIntent{
		Nickname: nickname,
		Owner:    owner.Hex(),
	}

	payload, err := v.json.Marshal(intent)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to marshal claim intent: %w", err)
	}

	canonical, err := v.jcs.Transform(payload)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to canonicalize claim intent: %w", err)
	}

	return common.BytesToHash(accounts.TextHash(canonical)), nil
}

// VerifyClaimIntent recovers the signer of a claim intent and requires it to
// be the claimed owner
func (v *Verifier) VerifyClaimIntent(nickname string, owner common.Address, signature []byte) error {
	digest, err := v.ClaimIntentDigest(nickname, owner)
	if err != nil {
		return err
	}

	signer, err := RecoverSigner(digest, signature)
	if err != nil {
		return err
	}

	if signer != owner {
		return fmt.Errorf("%w: recovered signer %s does not match owner %s",
			domain.ErrInvalidSignature, signer.Hex(), owner.Hex())
	}

	return nil
}

// MigrationAuthorizationDigest computes the EIP-191 digest a wallet signs to
// authorize moving a nickname on-chain. The inner hash binds the namehash and
// owner under a fixed prefix so the signature cannot be replayed as any other
// message type.
func MigrationAuthorizationDigest(nameHash common.Hash, owner common.Address) common.Hash {
	inner := crypto.Keccak256Hash(
		[]byte(migrationAuthPrefix),
		nameHash.Bytes(),
		owner.Bytes(),
	)
	return common.BytesToHash(accounts.TextHash(inner.Bytes()))
}

// VerifyMigrationAuthorization recovers the signer of a migration
// authorization and requires it to be the nickname owner
func VerifyMigrationAuthorization(nameHash common.Hash, owner common.Address, signature []byte) error {
	digest := MigrationAuthorizationDigest(nameHash, owner)

	signer, err := RecoverSigner(digest, signature)
	if err != nil {
		return err
	}

	if signer != owner {
		return fmt.Errorf("%w: recovered signer %s does not match owner %s",
			domain.ErrInvalidSignature, signer.Hex(), owner.Hex())
	}

	return nil
}

// RecoverSigner performs ecrecover over a digest. Wallets emit V as 27/28
// per the original Ethereum convention while crypto.SigToPub expects 0/1,
// so V is normalized on a copy before recovery.
func RecoverSigner(digest common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != signatureLength {
		return common.Address{}, fmt.Errorf("%w: signature must be %d bytes, got %d",
			domain.ErrInvalidSignature, signatureLength, len(signature))
	}

	sig := make([]byte, signatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] != 0 && sig[64] != 1 {
		return common.Address{}, fmt.Errorf("%w: invalid recovery id %d",
			domain.ErrInvalidSignature, signature[64])
	}

	pubKey, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s", domain.ErrInvalidSignature, err.Error())
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

package dto

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	apierrors "github.com/rockfridrich/villa-sub002/internal/api/shared/errors"
	"github.com/rockfridrich/villa-sub002/internal/domain"
	internalTypes "github.com/rockfridrich/villa-sub002/internal/types"
)

// ClaimNicknameRequest is the body of POST /api/v1/nicknames. Signatures are
// 0x-prefixed hex; the display form in Nickname is stored verbatim, so the
// claim intent signature must cover exactly this string.
type ClaimNicknameRequest struct {
	Nickname               string                         `json:"nickname"`
	OwnerAddress           string                         `json:"owner_address"`
	ClaimIntentSignature   string                         `json:"claim_intent_signature"`
	MigrationAuthorization *MigrationAuthorizationRequest `json:"migration_authorization,omitempty"`
	ReplaceExisting        bool                           `json:"replace_existing,omitempty"`
}

// Validate validates the request body shape. Name policy, signature
// recovery and rate limiting are the claim service's job.
func (r *ClaimNicknameRequest) Validate() error {
	// Validate: nickname must be provided
	if r.Nickname == "" {
		return apierrors.NewValidationError("nickname is required")
	}

	// Validate: owner address must be a valid Ethereum address
	if r.OwnerAddress == "" {
		return apierrors.NewValidationError("owner_address is required")
	}
	if !internalTypes.IsEthereumAddress(r.OwnerAddress) {
		return apierrors.NewValidationError(fmt.Sprintf("invalid owner address: %s", r.OwnerAddress))
	}

	// Validate: claim intent signature must be a 65-byte hex string
	if r.ClaimIntentSignature == "" {
		return apierrors.NewValidationError("claim_intent_signature is required")
	}
	if !internalTypes.IsHexSignature(r.ClaimIntentSignature) {
		return apierrors.NewValidationError("claim_intent_signature must be a 0x-prefixed 65-byte hex string")
	}

	// Validate: optional migration authorization, if present
	if r.MigrationAuthorization != nil {
		if err := r.MigrationAuthorization.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Owner returns the validated owner address
func (r *ClaimNicknameRequest) Owner() common.Address {
	return common.HexToAddress(r.OwnerAddress)
}

// Signature returns the decoded claim intent signature. Validate must have
// passed first.
func (r *ClaimNicknameRequest) Signature() []byte {
	signature, _ := hexutil.Decode(r.ClaimIntentSignature)
	return signature
}

// MigrationAuthorizationRequest is the owner's signed migration consent, sent
// either inline with a claim or to POST
// /api/v1/nicknames/:name/migration-authorization. OwnerAddress and NameHash
// are optional bindings: when present they must match the record, when absent
// the service fills them from the record before verifying the signature.
type MigrationAuthorizationRequest struct {
	OwnerAddress string     `json:"owner_address,omitempty"`
	NameHash     string     `json:"name_hash,omitempty"`
	Signature    string     `json:"signature"`
	SignedAt     *time.Time `json:"signed_at,omitempty"`
}

// Validate validates the request body shape
func (r *MigrationAuthorizationRequest) Validate() error {
	// Validate: signature must be a 65-byte hex string
	if r.Signature == "" {
		return apierrors.NewValidationError("migration authorization signature is required")
	}
	if !internalTypes.IsHexSignature(r.Signature) {
		return apierrors.NewValidationError("migration authorization signature must be a 0x-prefixed 65-byte hex string")
	}

	// Validate: optional owner binding must be a valid Ethereum address
	if r.OwnerAddress != "" && !internalTypes.IsEthereumAddress(r.OwnerAddress) {
		return apierrors.NewValidationError(fmt.Sprintf("invalid migration authorization owner address: %s", r.OwnerAddress))
	}

	// Validate: optional name hash binding must be a 32-byte hex string
	if r.NameHash != "" && !internalTypes.IsHexHash(r.NameHash) {
		return apierrors.NewValidationError(fmt.Sprintf("invalid migration authorization name hash: %s", r.NameHash))
	}

	return nil
}

// ToDomain converts the validated request into the domain authorization
func (r *MigrationAuthorizationRequest) ToDomain() *domain.MigrationAuthorization {
	authorization := &domain.MigrationAuthorization{}

	if r.OwnerAddress != "" {
		authorization.Owner = common.HexToAddress(r.OwnerAddress)
	}
	if r.NameHash != "" {
		authorization.NameHash = common.HexToHash(r.NameHash)
	}

	signature, _ := hexutil.Decode(r.Signature)
	authorization.Signature = signature

	if r.SignedAt != nil {
		authorization.SignedAt = *r.SignedAt
	}

	return authorization
}

// BatchConfirmationRequest is the body of POST
// /api/v1/migration/batches/:id/confirmation, the HTTP fallback for the
// JetStream confirmation subject. The batch ID comes from the URL.
type BatchConfirmationRequest struct {
	TxID      string     `json:"tx_id,omitempty"`
	Confirmed bool       `json:"confirmed"`
	Reason    string     `json:"reason,omitempty"`
	EventID   string     `json:"event_id,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Validate validates the request body shape
func (r *BatchConfirmationRequest) Validate() error {
	// Validate: a confirmed batch must reference its settlement transaction
	if r.Confirmed && r.TxID == "" {
		return apierrors.NewValidationError("tx_id is required when confirmed is true")
	}

	return nil
}

// ToDomain converts the request into the domain confirmation for batchID
func (r *BatchConfirmationRequest) ToDomain(batchID string) *domain.BatchConfirmation {
	confirmation := &domain.BatchConfirmation{
		BatchID:   batchID,
		TxID:      r.TxID,
		Confirmed: r.Confirmed,
		Reason:    r.Reason,
		EventID:   r.EventID,
	}

	if r.Timestamp != nil {
		confirmation.Timestamp = *r.Timestamp
	}

	return confirmation
}

package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rockfridrich/villa-sub002/internal/adapter"
	"github.com/rockfridrich/villa-sub002/internal/domain"
	"github.com/rockfridrich/villa-sub002/internal/naming"
	"github.com/rockfridrich/villa-sub002/internal/store"
)

// Resolution is the gateway's answer to a lookup. Both directions resolve to
// the same record; the envelope carries the direction-specific ABI payload.
type Resolution struct {
	Nickname        string                 `json:"nickname"`
	FullName        string                 `json:"full_name"`
	NameHash        common.Hash            `json:"name_hash"`
	Owner           common.Address         `json:"owner"`
	MigrationStatus domain.MigrationStatus `json:"migration_status"`
	Envelope        *Envelope              `json:"envelope"`
}

// Resolver answers resolution queries with signed envelopes
//
//go:generate mockgen -source=resolver.go -destination=../mocks/gateway_resolver.go -package=mocks -mock_names=Resolver=MockResolver
type Resolver interface {
	// ResolveName resolves a nickname (label or fully qualified name) to its
	// owner address. A missing name yields domain.ErrNicknameNotFound; the
	// gateway never answers with a zero address.
	ResolveName(ctx context.Context, name string) (*Resolution, error)

	// ResolveAddress resolves an owner address to its active nickname
	ResolveAddress(ctx context.Context, address common.Address) (*Resolution, error)
}

// resolver signs store-backed answers in the verifier's digest format
type resolver struct {
	store     store.Store
	signer    Signer
	clock     adapter.Clock
	namespace naming.Namespace
	verifier  common.Address
	ttl       time.Duration
}

var (
	addressArguments = abi.Arguments{{Type: mustNewType("address")}}
	stringArguments  = abi.Arguments{{Type: mustNewType("string")}}
)

func mustNewType(solidityType string) abi.Type {
	typ, err := abi.NewType(solidityType, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// NewResolver creates a gateway resolver. The envelope TTL is clamped to
// domain.MAX_ENVELOPE_TTL: stale positive answers must age out faster than
// any migration can land on-chain.
func NewResolver(
	s store.Store,
	signer Signer,
	clock adapter.Clock,
	namespace naming.Namespace,
	verifier common.Address,
	ttl time.Duration,
) Resolver {
	if ttl <= 0 || ttl > domain.MAX_ENVELOPE_TTL {
		ttl = domain.MAX_ENVELOPE_TTL
	}

	return &resolver{
		store:     s,
		signer:    signer,
		clock:     clock,
		namespace: namespace,
		verifier:  verifier,
		ttl:       ttl,
	}
}

// ResolveName resolves a nickname to its owner address
func (r *resolver) ResolveName(ctx context.Context, name string) (*Resolution, error) {
	label, err := r.namespace.CanonicalLabel(name)
	if err != nil {
		return nil, err
	}

	nameHash, _ := r.namespace.Hashes(label)

	record, err := r.store.GetByNameHash(ctx, nameHash.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to look up name: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNicknameNotFound, r.namespace.FullName(label))
	}

	owner := common.HexToAddress(record.OwnerAddress)

	result, err := addressArguments.Pack(owner)
	if err != nil {
		return nil, fmt.Errorf("failed to encode owner address: %w", err)
	}

	envelope, err := r.seal(EncodeNameRequest(nameHash), result)
	if err != nil {
		return nil, err
	}

	return &Resolution{
		Nickname:        record.NormalizedNickname,
		FullName:        r.namespace.FullName(record.NormalizedNickname),
		NameHash:        nameHash,
		Owner:           owner,
		MigrationStatus: record.MigrationStatus,
		Envelope:        envelope,
	}, nil
}

// ResolveAddress resolves an owner address to its active nickname
func (r *resolver) ResolveAddress(ctx context.Context, address common.Address) (*Resolution, error) {
	record, err := r.store.GetActiveByOwner(ctx, strings.ToLower(address.Hex()))
	if err != nil {
		return nil, fmt.Errorf("failed to look up owner: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: no active nickname for %s", domain.ErrNicknameNotFound, address.Hex())
	}

	fullName := r.namespace.FullName(record.NormalizedNickname)

	result, err := stringArguments.Pack(fullName)
	if err != nil {
		return nil, fmt.Errorf("failed to encode full name: %w", err)
	}

	envelope, err := r.seal(EncodeAddressRequest(address), result)
	if err != nil {
		return nil, err
	}

	return &Resolution{
		Nickname:        record.NormalizedNickname,
		FullName:        fullName,
		NameHash:        common.HexToHash(record.NameHash),
		Owner:           address,
		MigrationStatus: record.MigrationStatus,
		Envelope:        envelope,
	}, nil
}

// seal signs a (request, result) pair into an envelope
func (r *resolver) seal(request []byte, result []byte) (*Envelope, error) {
	expires := uint64(r.clock.Now().Add(r.ttl).Unix())

	digest := EnvelopeDigest(r.verifier, expires, request, result)
	signature, err := r.signer.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign envelope: %w", err)
	}

	return &Envelope{
		Result:      result,
		Expires:     expires,
		Signature:   signature,
		Signer:      r.signer.Address(),
		RequestHash: crypto.Keccak256Hash(request),
	}, nil
}

package claim

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rockfridrich/villa-sub002/internal/adapter"
	"github.com/rockfridrich/villa-sub002/internal/domain"
	"github.com/rockfridrich/villa-sub002/internal/logger"
	"github.com/rockfridrich/villa-sub002/internal/naming"
	"github.com/rockfridrich/villa-sub002/internal/ratelimit"
	"github.com/rockfridrich/villa-sub002/internal/registry"
	"github.com/rockfridrich/villa-sub002/internal/signing"
	"github.com/rockfridrich/villa-sub002/internal/store"
	"github.com/rockfridrich/villa-sub002/internal/store/schema"
)

// maxSuggestionAttempts bounds the numbered-suffix search for a free variant
const maxSuggestionAttempts = 8

// ClaimInput carries one claim request after transport validation
type ClaimInput struct {
	// Nickname is the display form exactly as the owner typed it; the claim
	// intent signature covers this form, not the normalized one
	Nickname string
	// Owner is the wallet address claiming the name
	Owner common.Address
	// IntentSignature is the owner's EIP-191 signature over the canonical
	// claim intent
	IntentSignature []byte
	// MigrationAuthorization optionally pre-authorizes on-chain migration at
	// claim time
	MigrationAuthorization *domain.MigrationAuthorization
	// ReplaceExisting deprecates the owner's current nickname instead of
	// failing the single-ownership check
	ReplaceExisting bool
}

// Service handles nickname claims and availability checks
//
//go:generate mockgen -source=service.go -destination=../mocks/claim_service.go -package=mocks -mock_names=Service=MockClaimService
type Service interface {
	// CheckAvailability classifies a raw name and, when it is taken,
	// proposes a free numbered variant. The check runs the exact pipeline a
	// claim would, so "available" here means a claim would have succeeded at
	// that instant.
	CheckAvailability(ctx context.Context, rawName string) (*domain.AvailabilityResult, error)

	// Claim registers a nickname for an owner. Order of checks: input
	// canonicalization, content policy, intent signature, rate limit,
	// optional migration authorization, then the transactional store write
	// that settles races.
	Claim(ctx context.Context, input ClaimInput) (*schema.NicknameRecord, error)
}

type service struct {
	store     store.Store
	profanity registry.ProfanityRegistry
	limiter   ratelimit.Limiter
	verifier  *signing.Verifier
	namespace naming.Namespace
	json      adapter.JSON
	clock     adapter.Clock
}

// NewService creates a new claim service
func NewService(
	s store.Store,
	profanity registry.ProfanityRegistry,
	limiter ratelimit.Limiter,
	verifier *signing.Verifier,
	namespace naming.Namespace,
	js adapter.JSON,
	clock adapter.Clock,
) Service {
	return &service{
		store:     s,
		profanity: profanity,
		limiter:   limiter,
		verifier:  verifier,
		namespace: namespace,
		json:      js,
		clock:     clock,
	}
}

// CheckAvailability classifies a raw name
func (s *service) CheckAvailability(ctx context.Context, rawName string) (*domain.AvailabilityResult, error) {
	normalized, err := naming.Canonicalize(rawName)
	if err != nil {
		return nil, err
	}

	if s.profanity.IsProfane(normalized) {
		return &domain.AvailabilityResult{
			Status:     domain.AvailabilityReserved,
			Normalized: normalized,
			Reason:     "not allowed by content policy",
		}, nil
	}

	status, reason, err := s.store.CheckAvailability(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to check availability: %w", err)
	}

	result := &domain.AvailabilityResult{
		Status:     status,
		Normalized: normalized,
		Reason:     reason,
	}

	if status == domain.AvailabilityTaken {
		result.Suggestion = s.suggestVariant(ctx, normalized)
	}

	return result, nil
}

// Claim registers a nickname for an owner
func (s *service) Claim(ctx context.Context, input ClaimInput) (*schema.NicknameRecord, error) {
	normalized, err := naming.Canonicalize(input.Nickname)
	if err != nil {
		return nil, err
	}

	if s.profanity.IsProfane(normalized) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNicknameProfane, normalized)
	}

	if err := s.verifier.VerifyClaimIntent(input.Nickname, input.Owner, input.IntentSignature); err != nil {
		return nil, err
	}

	// Rate limiting runs after signature verification so only attempts the
	// owner actually signed can consume the owner's budget
	if err := s.limiter.Allow(ctx, input.Owner.Hex()); err != nil {
		return nil, err
	}

	nameHash, labelHash := s.namespace.Hashes(normalized)

	migrationStatus := domain.MigrationStatusOffChain
	var authorizationBytes []byte
	if input.MigrationAuthorization != nil {
		authorizationBytes, err = s.sealAuthorization(nameHash, input.Owner, input.MigrationAuthorization)
		if err != nil {
			return nil, err
		}
		migrationStatus = domain.MigrationStatusAuthorized
	}

	record, err := s.store.ClaimNickname(ctx, store.ClaimNicknameInput{
		Nickname:               input.Nickname,
		NormalizedNickname:     normalized,
		NameHash:               nameHash.Hex(),
		LabelHash:              labelHash.Hex(),
		ParentNameHash:         s.namespace.ParentHash().Hex(),
		OwnerAddress:           strings.ToLower(input.Owner.Hex()),
		MigrationStatus:        migrationStatus,
		MigrationAuthorization: authorizationBytes,
		ReplaceExisting:        input.ReplaceExisting,
	})
	if err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "Nickname claimed",
		zap.String("nickname", record.NormalizedNickname),
		zap.String("name_hash", record.NameHash),
		zap.String("owner", record.OwnerAddress),
		zap.String("migration_status", string(record.MigrationStatus)),
		zap.Bool("replaced_existing", input.ReplaceExisting),
	)

	return record, nil
}

// sealAuthorization validates a migration authorization against the claim and
// serializes it for storage. The authorization must be signed by the claiming
// owner over exactly the namehash being claimed.
func (s *service) sealAuthorization(nameHash common.Hash, owner common.Address, auth *domain.MigrationAuthorization) ([]byte, error) {
	if auth.Owner != (common.Address{}) && auth.Owner != owner {
		return nil, fmt.Errorf("%w: authorization owner %s does not match claim owner %s",
			domain.ErrInvalidSignature, auth.Owner.Hex(), owner.Hex())
	}
	if auth.NameHash != (common.Hash{}) && auth.NameHash != nameHash {
		return nil, fmt.Errorf("%w: authorization bound to a different name", domain.ErrInvalidSignature)
	}

	if err := signing.VerifyMigrationAuthorization(nameHash, owner, auth.Signature); err != nil {
		return nil, err
	}

	sealed := domain.MigrationAuthorization{
		NameHash:  nameHash,
		Owner:     owner,
		Signature: auth.Signature,
		SignedAt:  auth.SignedAt,
	}
	if sealed.SignedAt.IsZero() {
		sealed.SignedAt = s.clock.Now()
	}

	data, err := s.json.Marshal(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize migration authorization: %w", err)
	}
	return data, nil
}

// suggestVariant proposes the first free numbered variant of a taken name.
// The search is deterministic so repeated checks steer clients to the same
// candidate; it gives up quietly after a fixed number of attempts.
func (s *service) suggestVariant(ctx context.Context, normalized string) string {
	for i := 2; i < 2+maxSuggestionAttempts; i++ {
		candidate := suffixVariant(normalized, i)
		if candidate == "" {
			continue
		}

		if s.profanity.IsProfane(candidate) {
			continue
		}

		status, _, err := s.store.CheckAvailability(ctx, candidate)
		if err != nil {
			logger.WarnCtx(ctx, "Suggestion lookup failed",
				zap.String("candidate", candidate),
				zap.Error(err),
			)
			return ""
		}
		if status == domain.AvailabilityAvailable {
			return candidate
		}
	}
	return ""
}

// suffixVariant appends a numeric suffix, trimming the base so the result
// stays within the length bounds
func suffixVariant(base string, n int) string {
	suffix := strconv.Itoa(n)
	maxBase := domain.MAX_NICKNAME_LENGTH - len(suffix)
	if maxBase <= 0 {
		return ""
	}
	if len(base) > maxBase {
		base = base[:maxBase]
	}

	candidate := base + suffix
	if len(candidate) < domain.MIN_NICKNAME_LENGTH {
		return ""
	}
	return candidate
}

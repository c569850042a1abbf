package rest

import (
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/rockfridrich/villa-sub002/internal/adapter"
	"github.com/rockfridrich/villa-sub002/internal/api/shared/dto"
	"github.com/rockfridrich/villa-sub002/internal/claim"
	"github.com/rockfridrich/villa-sub002/internal/gateway"
	"github.com/rockfridrich/villa-sub002/internal/migration"
	"github.com/rockfridrich/villa-sub002/internal/naming"
	"github.com/rockfridrich/villa-sub002/internal/store/schema"
	internalTypes "github.com/rockfridrich/villa-sub002/internal/types"
)

// Handler defines the interface for REST API handlers
// This interface allows for easy mocking and testing
//
//go:generate mockgen -source=handler.go -destination=../../mocks/api_handler.go -package=mocks -mock_names=Handler=MockAPIHandler
type Handler interface {
	// CheckAvailability classifies a candidate nickname
	// GET /api/v1/nicknames/availability?name=<name>
	CheckAvailability(c *gin.Context)

	// ClaimNickname registers a nickname for an owner
	// POST /api/v1/nicknames
	ClaimNickname(c *gin.Context)

	// ResolveName resolves a nickname to its owner address with a signed envelope
	// GET /api/v1/resolve/name/:name
	ResolveName(c *gin.Context)

	// ResolveAddress resolves an owner address to its active nickname with a signed envelope
	// GET /api/v1/resolve/address/:address
	ResolveAddress(c *gin.Context)

	// AuthorizeMigration stores an owner-signed migration authorization (requires authentication)
	// POST /api/v1/nicknames/:name/migration-authorization
	AuthorizeMigration(c *gin.Context)

	// GetMigrationBatch retrieves a migration batch by ID (requires authentication)
	// GET /api/v1/migration/batches/:id
	GetMigrationBatch(c *gin.Context)

	// ConfirmMigrationBatch settles a batch from a submitter report (requires authentication).
	// HTTP fallback for the JetStream confirmation subject; both paths apply
	// the same store transition.
	// POST /api/v1/migration/batches/:id/confirmation
	ConfirmMigrationBatch(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	claims     claim.Service
	resolver   gateway.Resolver
	migrations migration.Service
	namespace  naming.Namespace
	json       adapter.JSON
}

// NewHandler creates a new REST API handler
func NewHandler(
	claims claim.Service,
	resolver gateway.Resolver,
	migrations migration.Service,
	namespace naming.Namespace,
	jsonAdapter adapter.JSON,
) Handler {
	return &handler{
		claims:     claims,
		resolver:   resolver,
		migrations: migrations,
		namespace:  namespace,
		json:       jsonAdapter,
	}
}

// CheckAvailability classifies a candidate nickname. The check runs the exact
// normalize/validate path a claim would, so "available" means a claim of this
// name would have succeeded at that instant.
func (h *handler) CheckAvailability(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		respondBadRequest(c, "name query parameter is required")
		return
	}

	result, err := h.claims.CheckAvailability(c.Request.Context(), name)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewAvailabilityResponse(result))
}

// ClaimNickname registers a nickname for an owner
func (h *handler) ClaimNickname(c *gin.Context) {
	var req dto.ClaimNicknameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	// Validate request body
	if err := req.Validate(); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	input := claim.ClaimInput{
		Nickname:        req.Nickname,
		Owner:           req.Owner(),
		IntentSignature: req.Signature(),
		ReplaceExisting: req.ReplaceExisting,
	}
	if req.MigrationAuthorization != nil {
		input.MigrationAuthorization = req.MigrationAuthorization.ToDomain()
	}

	record, err := h.claims.Claim(c.Request.Context(), input)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	h.respondRecord(c, http.StatusCreated, record)
}

// ResolveName resolves a nickname to its owner address. The gateway accepts
// both the bare label and the fully qualified name.
func (h *handler) ResolveName(c *gin.Context) {
	name := c.Param("name")

	resolution, err := h.resolver.ResolveName(c.Request.Context(), name)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, resolution)
}

// ResolveAddress resolves an owner address to its active nickname
func (h *handler) ResolveAddress(c *gin.Context) {
	address := c.Param("address")
	if !internalTypes.IsEthereumAddress(address) {
		respondValidationError(c, fmt.Sprintf("invalid address: %s", address))
		return
	}

	resolution, err := h.resolver.ResolveAddress(c.Request.Context(), common.HexToAddress(address))
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, resolution)
}

// AuthorizeMigration stores an owner-signed migration authorization for an
// existing record
func (h *handler) AuthorizeMigration(c *gin.Context) {
	name := c.Param("name")

	var req dto.MigrationAuthorizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	// Validate request body
	if err := req.Validate(); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	record, err := h.migrations.Authorize(c.Request.Context(), name, req.ToDomain())
	if err != nil {
		respondDomainError(c, err)
		return
	}

	h.respondRecord(c, http.StatusOK, record)
}

// GetMigrationBatch retrieves a migration batch by ID
func (h *handler) GetMigrationBatch(c *gin.Context) {
	batchID := c.Param("id")

	batch, err := h.migrations.GetBatch(c.Request.Context(), batchID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	h.respondBatch(c, http.StatusOK, batch)
}

// ConfirmMigrationBatch settles a batch from a submitter report and returns
// the settled batch
func (h *handler) ConfirmMigrationBatch(c *gin.Context) {
	batchID := c.Param("id")

	var req dto.BatchConfirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	// Validate request body
	if err := req.Validate(); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	if err := h.migrations.ApplyConfirmation(c.Request.Context(), req.ToDomain(batchID)); err != nil {
		respondDomainError(c, err)
		return
	}

	batch, err := h.migrations.GetBatch(c.Request.Context(), batchID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	h.respondBatch(c, http.StatusOK, batch)
}

// HealthCheck returns the health status of the API
func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":  "ok",
		"service": "villa-registry-api",
	})
}

// respondRecord maps a stored record onto the wire shape
func (h *handler) respondRecord(c *gin.Context, statusCode int, record *schema.NicknameRecord) {
	domainRecord, err := internalTypes.RecordToDomain(record, h.json)
	if err != nil {
		respondInternalError(c, err, "Failed to map nickname record")
		return
	}

	fullName := h.namespace.FullName(domainRecord.NormalizedNickname)
	c.JSON(statusCode, dto.NewNicknameRecordResponse(domainRecord, fullName))
}

// respondBatch maps a stored batch onto the wire shape
func (h *handler) respondBatch(c *gin.Context, statusCode int, batch *schema.MigrationBatch) {
	domainBatch, err := internalTypes.BatchToDomain(batch, h.json)
	if err != nil {
		respondInternalError(c, err, "Failed to map migration batch")
		return
	}

	c.JSON(statusCode, dto.NewMigrationBatchResponse(domainBatch))
}

package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"casevault/internal/archive"
	"casevault/internal/auth"
	"casevault/internal/custody"
	"casevault/internal/rbac"
	"casevault/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CertificateArchiver stores certificate snapshots. *archive.Archiver implements it.
type CertificateArchiver interface {
	Archive(ctx context.Context, c custody.Certificate) (archive.Receipt, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call the custody service, return JSON.
type Handlers struct {
	Auth    *auth.Manager
	Custody *custody.Service
	Archive CertificateArchiver
}

// reqCtx carries the request-scoped logger into the service layer.
func reqCtx(c *gin.Context) context.Context {
	return logger.With(c.Request.Context(), logger.FromGin(c))
}

// --- Auth ---

type tokenRequest struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// IssueToken issues a JWT token pair.
//
// NOTE: Development-only endpoint; it is not routed in production. Real systems
// must validate credentials against an identity provider.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	if !rbac.IsKnownRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), auth.Identity{
		UserID:   req.UserID,
		Email:    req.Email,
		FullName: req.FullName,
		Role:     req.Role,
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- Custody ---

type recordRequest struct {
	FileName     string         `json:"file_name"`
	ActivityType string         `json:"activity_type"`
	Metadata     map[string]any `json:"metadata"`
}

// maxRecordBody bounds an event request before it is decoded. Metadata alone
// may take custody.MaxMetadataBytes once canonicalised.
const maxRecordBody = 4 * custody.MaxMetadataBytes

// actor builds the custody actor from the verified identity and the request.
func actor(c *gin.Context) (custody.Actor, bool) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		return custody.Actor{}, false
	}
	return custody.Actor{
		UserID:    id.UserID,
		Email:     id.Email,
		FullName:  id.FullName,
		IPAddress: c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
	}, true
}

// RecordEvent appends one event to the file's chain.
// RBAC: investigator, analyst (admin bypasses).
func (h Handlers) RecordEvent(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRecordBody)
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	e, err := h.Custody.Record(reqCtx(c), custody.RecordInput{
		CaseID:       c.Param("case_id"),
		FileName:     req.FileName,
		FileHash:     c.Param("file_hash"),
		ActivityType: custody.ActivityType(strings.TrimSpace(req.ActivityType)),
		Actor:        a,
		Metadata:     req.Metadata,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

// FileChain returns one file's chain. ?download=true returns it as a JSON attachment.
func (h Handlers) FileChain(c *gin.Context) {
	caseID, fileHash := c.Param("case_id"), c.Param("file_hash")
	chain, err := h.Custody.FileChain(reqCtx(c), caseID, fileHash)
	if err != nil {
		writeError(c, err)
		return
	}
	if c.Query("download") == "true" {
		body, err := custody.ExportChainJSON(chain)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="chain-of-custody-`+safeName(caseID)+"-"+safeName(fileHash)+`.json"`)
		c.Data(http.StatusOK, "application/json", body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"case_id": caseID, "file_hash": fileHash, "events": chain})
}

func (h Handlers) FileIntegrity(c *gin.Context) {
	res, err := h.Custody.Verify(reqCtx(c), c.Param("case_id"), c.Param("file_hash"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type certificateRequest struct {
	CaseNumber string `json:"case_number"`
	FileName   string `json:"file_name"`
	Archive    bool   `json:"archive"`
}

type certificateResponse struct {
	custody.Certificate
	Archive *archive.Receipt `json:"archive,omitempty"`
}

// GenerateCertificate attests to the file's chain as it is now.
// With archive=true the snapshot is also written to object storage.
func (h Handlers) GenerateCertificate(c *gin.Context) {
	var req certificateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	by := ""
	if id, err := auth.IdentityFrom(c.Request.Context()); err == nil {
		by = id.Email
		if by == "" {
			by = id.UserID
		}
	}

	ctx := reqCtx(c)
	cert, err := h.Custody.GenerateCertificate(ctx, custody.CertificateRequest{
		CaseID:      c.Param("case_id"),
		FileHash:    c.Param("file_hash"),
		CaseNumber:  req.CaseNumber,
		FileName:    req.FileName,
		GeneratedBy: by,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := certificateResponse{Certificate: cert}
	if req.Archive {
		if h.Archive == nil {
			c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "certificate archive not configured"})
			return
		}
		receipt, err := h.Archive.Archive(ctx, cert)
		if err != nil {
			logger.FromGin(c).Error("certificate archive failed", "case_id", cert.CaseID, "file_hash", cert.FileHash, "err", err)
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "certificate archive failed"})
			return
		}
		resp.Archive = &receipt
	}
	c.JSON(http.StatusOK, resp)
}

func (h Handlers) CaseChain(c *gin.Context) {
	caseID := c.Param("case_id")
	events, err := h.Custody.CaseChain(reqCtx(c), caseID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"case_id": caseID, "events": events})
}

func (h Handlers) CaseIntegrity(c *gin.Context) {
	res, err := h.Custody.VerifyCase(reqCtx(c), c.Param("case_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) CaseStats(c *gin.Context) {
	st, err := h.Custody.CaseActivityStats(reqCtx(c), c.Param("case_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

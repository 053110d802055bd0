// internal/middleware/logging.go
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/checkout-backend/internal/models"
	"github.com/javajoker/checkout-backend/internal/utils"
)

// AuditWriter persists audit entries.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// AuditLogMiddleware records every mutating request. Provider callbacks are
// recorded without their body; the reconciler archives those separately.
func AuditLogMiddleware(writer AuditWriter, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for GET requests and health checks
		if c.Request.Method == "GET" || c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		resourceType := extractResourceType(c.Request.URL.Path)

		// Read request body
		var requestBody []byte
		if c.Request.Body != nil && resourceType != "webhooks" {
			requestBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		c.Next()

		var requestData map[string]interface{}
		if len(requestBody) > 0 {
			json.Unmarshal(requestBody, &requestData)
		}

		auditLog := &models.AuditLog{
			Action:       c.Request.Method + " " + c.FullPath(),
			ResourceType: resourceType,
			ResourceID:   extractResourceID(c),
			IPAddress:    c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
			NewValues:    models.JSONB(requestData),
		}
		if auditLog.Action == c.Request.Method+" " {
			auditLog.Action = c.Request.Method + " " + c.Request.URL.Path
		}
		if owner, ok := utils.GetOwnerFromContext(c); ok {
			auditLog.UserID = owner.UserID
			auditLog.OwnerKey = owner.Key()
		}

		// Save audit log asynchronously
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := writer.CreateAuditLog(ctx, auditLog); err != nil {
				log.WithError(err).Error("Failed to create audit log")
			}
		}()
	}
}

func extractResourceType(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "v1" {
		return parts[1]
	}
	if len(parts) >= 1 && parts[0] != "" {
		return parts[0]
	}
	return "unknown"
}

func extractResourceID(c *gin.Context) string {
	for _, name := range []string{"transactionId", "id"} {
		if v := c.Param(name); v != "" {
			return v
		}
	}
	for _, part := range strings.Split(strings.Trim(c.Request.URL.Path, "/"), "/") {
		if _, err := uuid.Parse(part); err == nil {
			return part
		}
	}
	return ""
}

// RequestLogger logs one structured line per request.
func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Milliseconds(),
			"ip":       c.ClientIP(),
		}
		if owner, ok := utils.GetOwnerFromContext(c); ok {
			fields["owner"] = owner.Key()
		}

		entry := log.WithFields(fields)
		switch {
		case c.Writer.Status() >= 500:
			entry.WithField("errors", c.Errors.String()).Error("Request failed")
		case c.Writer.Status() >= 400:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request processed")
		}
	}
}

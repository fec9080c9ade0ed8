package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/gh900098/Mini-Game-Cursor-sub000/internal/pkg/webhook"
)

// WebhookIngress turns deliveries into queued jobs
type WebhookIngress interface {
	Handle(ctx context.Context, req webhook.Request) (*webhook.Ack, error)
}

// SyncWebhookController receives provider webhooks
type SyncWebhookController struct {
	ingress     WebhookIngress
	proxyHeader string
}

// NewSyncWebhookController creates the controller. proxyHeader names the header
// carrying the client address when running behind a proxy; empty uses the socket address.
func NewSyncWebhookController(ingress WebhookIngress, proxyHeader string) *SyncWebhookController {
	return &SyncWebhookController{ingress: ingress, proxyHeader: proxyHeader}
}

// HandleWebhook handles POST /webhooks/sync/:type/:companyId
func (s *SyncWebhookController) HandleWebhook(c *fiber.Ctx) error {
	// params alias the request buffer, jobs outlive it
	syncType := utils.CopyString(c.Params("type"))
	companyID := utils.CopyString(c.Params("companyId"))
	log.Infof("[SyncWebhook] Received %s webhook for company %s", syncType, companyID)

	// fiber reuses the body buffer after the handler returns
	body := append([]byte(nil), c.Body()...)
	payload := map[string]interface{}{}
	if len(bytes.TrimSpace(body)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			return jsonError(c, fiber.StatusBadRequest, "bad_request", "Body must be a JSON object")
		}
	}

	ack, err := s.ingress.Handle(c.UserContext(), webhook.Request{
		SyncType:   syncType,
		CompanyID:  companyID,
		Payload:    payload,
		SourceAddr: ClientIP(c, s.proxyHeader),
		Signature:  c.Get(webhook.SignatureHeader),
		Body:       body,
	})
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrCompanyNotFound):
			return jsonError(c, fiber.StatusNotFound, "not_found", "Company "+companyID+" not found")
		case errors.Is(err, webhook.ErrAddressNotAllowed):
			return jsonError(c, fiber.StatusForbidden, "forbidden", "IP "+ClientIP(c, s.proxyHeader)+" not whitelisted")
		case errors.Is(err, webhook.ErrInvalidSignature):
			return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Invalid webhook signature")
		case errors.Is(err, webhook.ErrUnsupportedType):
			return jsonError(c, fiber.StatusBadRequest, "bad_request", "Unsupported sync type "+syncType)
		}
		log.Errorf("[SyncWebhook] Failed to accept %s webhook for company %s: %v", syncType, companyID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to queue sync job")
	}

	return c.Status(fiber.StatusOK).JSON(ack)
}

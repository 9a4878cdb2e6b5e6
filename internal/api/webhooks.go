package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dmitrymomot/filevault/internal/billing"
	"github.com/dmitrymomot/filevault/internal/core"
	"github.com/dmitrymomot/filevault/internal/web"
)

const (
	SignatureHeader = "X-Billing-Signature"

	EventPlanChanged         = "plan.changed"
	EventSubscriptionUpdated = "subscription.updated"

	maxWebhookBody = 1 << 20
)

type webhookEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Sign is the signature a billing provider sends for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *API) verify(body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, a.webhookSecret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// billingWebhook applies plan and subscription events. Unknown event types
// are acknowledged so the provider does not redeliver them.
func (a *API) billingWebhook(c web.Context) error {
	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, maxWebhookBody))
	if err != nil {
		return web.ErrBadRequest("Unreadable request body", web.WithError(err))
	}
	if !a.verify(body, c.Header(SignatureHeader)) {
		return web.ErrUnauthorized("Invalid signature", web.WithErrorCode("invalid_signature"))
	}

	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return web.ErrBadRequest("Malformed JSON body", web.WithError(err))
	}

	switch ev.Type {
	case EventPlanChanged:
		var pc billing.PlanChange
		if err := decodeData(ev.Data, &pc); err != nil {
			return err
		}
		plan, err := a.svc.Billing.ApplyPlanChange(c, pc)
		if err != nil {
			return err
		}
		return ok(c, http.StatusOK, map[string]any{"type": ev.Type, "plan": plan.Code})

	case EventSubscriptionUpdated:
		var se billing.SubscriptionEvent
		if err := decodeData(ev.Data, &se); err != nil {
			return err
		}
		sub, err := a.svc.Billing.ApplySubscriptionEvent(c, se)
		if err != nil {
			return err
		}
		return ok(c, http.StatusOK, map[string]any{"type": ev.Type, "status": sub.Status})
	}

	c.LogInfo("billing event ignored", slog.String("type", ev.Type))
	return ok(c, http.StatusOK, map[string]any{"type": ev.Type, "ignored": true})
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return core.Invalid("Event data is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return core.Invalid("Invalid value for %s", typeErr.Field)
		}
		return core.Invalid("Malformed event data")
	}
	return nil
}

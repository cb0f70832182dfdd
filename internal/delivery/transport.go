package delivery

import (
	"context"

	"github.com/noah-isme/sma-notify-api/internal/models"
)

// Capabilities reports which channels can currently reach a guardian.
type Capabilities struct {
	WhatsApp bool `json:"whatsapp"`
	SMS      bool `json:"sms"`
	Email    bool `json:"email"`
}

// Has reports whether the given channel is reachable.
func (c Capabilities) Has(channel models.Channel) bool {
	switch channel {
	case models.ChannelWhatsApp:
		return c.WhatsApp
	case models.ChannelSMS:
		return c.SMS
	case models.ChannelEmail:
		return c.Email
	}
	return false
}

// Any reports whether at least one channel is reachable.
func (c Capabilities) Any() bool {
	return c.WhatsApp || c.SMS || c.Email
}

// Transport is the send-side collaborator. Implementations wrap the actual
// WhatsApp/SMS/email gateways; the orchestrator only needs a capability probe
// and a send function.
type Transport interface {
	Capabilities(ctx context.Context, guardianID string) (Capabilities, error)
	Send(ctx context.Context, channel models.Channel, guardianID, body string) error
}

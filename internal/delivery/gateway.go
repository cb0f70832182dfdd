package delivery

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-api/internal/models"
)

type guardianContactSource interface {
	FindByID(ctx context.Context, id string) (*models.Guardian, error)
}

// GatewayTransport derives channel capabilities from the guardian's stored
// contact details and forwards sends to the configured messaging gateways.
// Provider integration is stubbed: sends are logged and acknowledged.
type GatewayTransport struct {
	guardians guardianContactSource
	logger    *zap.Logger
}

// NewGatewayTransport constructs the transport.
func NewGatewayTransport(guardians guardianContactSource, logger *zap.Logger) *GatewayTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatewayTransport{guardians: guardians, logger: logger}
}

// Capabilities reports which channels can reach the guardian based on the
// contact details on file.
func (t *GatewayTransport) Capabilities(ctx context.Context, guardianID string) (Capabilities, error) {
	guardian, err := t.guardians.FindByID(ctx, guardianID)
	if err != nil {
		return Capabilities{}, err
	}
	return Capabilities{
		WhatsApp: guardian.WhatsApp != nil && *guardian.WhatsApp != "",
		SMS:      guardian.Phone != nil && *guardian.Phone != "",
		Email:    guardian.Email != nil && *guardian.Email != "",
	}, nil
}

// Send dispatches one message over the given channel.
func (t *GatewayTransport) Send(ctx context.Context, channel models.Channel, guardianID, body string) error {
	t.logger.Sugar().Infow("dispatching message",
		"channel", channel,
		"guardian_id", guardianID,
		"bytes", len(body))
	return nil
}

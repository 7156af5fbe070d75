package main

import (
	"context"
	"fmt"

	"github.com/relayq/relayq/internal/broker"
	"github.com/relayq/relayq/internal/platform/logger"
)

// EmailPayload is the decoded body for the "email" queue. Registering a
// PayloadFactory lets the pool decode straight into this type instead
// of handing the handler a raw []byte.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type ImageResizePayload struct {
	SourceURL string `json:"source_url"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type ReminderPayload struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

func handleEmail(ctx context.Context, msg broker.Message, payload any) error {
	p, ok := payload.(*EmailPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T for email handler", payload)
	}
	logger.Log.Info().Str("message_id", msg.ID).Str("to", p.To).Msg("sending email")
	return sendEmail(ctx, p)
}

func handleImageResize(ctx context.Context, msg broker.Message, payload any) error {
	p, ok := payload.(*ImageResizePayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T for image_resize handler", payload)
	}
	logger.Log.Info().Str("message_id", msg.ID).Str("source", p.SourceURL).Msg("resizing image")
	return resizeImage(ctx, p)
}

func handleReminder(ctx context.Context, msg broker.Message, payload any) error {
	p, ok := payload.(*ReminderPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T for reminder handler", payload)
	}
	logger.Log.Info().Str("message_id", msg.ID).Str("user_id", p.UserID).Msg("delivering reminder")
	return deliverReminder(ctx, p)
}

// The following are placeholder integrations left for the operator to
// wire to a real mail/image/notification provider; the broker itself
// is transport-agnostic about what a handler does with its payload.

func sendEmail(ctx context.Context, p *EmailPayload) error {
	_ = ctx
	_ = p
	return nil
}

func resizeImage(ctx context.Context, p *ImageResizePayload) error {
	_ = ctx
	_ = p
	return nil
}

func deliverReminder(ctx context.Context, p *ReminderPayload) error {
	_ = ctx
	_ = p
	return nil
}

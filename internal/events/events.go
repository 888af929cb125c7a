// Package events emits media review decisions so downstream automation
// (scheduled posting, archiving, analytics) can react to them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/fpang/penguin-studio/internal/store"
	"github.com/rs/zerolog/log"
)

const (
	// Source is the EventBridge source of every event emitted here.
	Source = "penguin-studio"

	DetailTypeReviewed = "MediaReviewed"
)

// MediaReviewed is the detail of a review decision event.
type MediaReviewed struct {
	RecordID  string          `json:"recordId"`
	Kind      store.MediaKind `json:"kind"`
	Status    store.Status    `json:"status"`
	MediaURL  string          `json:"mediaUrl,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// NewMediaReviewed builds the event for rec after its status changed.
func NewMediaReviewed(rec store.MediaRecord, at time.Time) MediaReviewed {
	return MediaReviewed{
		RecordID:  rec.ID,
		Kind:      rec.Kind,
		Status:    rec.Status,
		MediaURL:  rec.MediaURL,
		Prompt:    rec.Prompt,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

// Notifier receives review decisions.
type Notifier interface {
	MediaReviewed(ctx context.Context, event MediaReviewed) error
}

// Nop discards events.
type Nop struct{}

func (Nop) MediaReviewed(context.Context, MediaReviewed) error { return nil }

// PutEventsAPI is the subset of the EventBridge client used here.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridge publishes events to one bus.
type EventBridge struct {
	client  PutEventsAPI
	busName string
}

// NewEventBridge creates a notifier. An empty busName uses the default bus.
func NewEventBridge(client PutEventsAPI, busName string) *EventBridge {
	return &EventBridge{client: client, busName: busName}
}

func (e *EventBridge) MediaReviewed(ctx context.Context, event MediaReviewed) error {
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal MediaReviewed: %w", err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(Source),
		DetailType: aws.String(DetailTypeReviewed),
		Detail:     aws.String(string(detail)),
	}
	if e.busName != "" {
		entry.EventBusName = aws.String(e.busName)
	}

	result, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("recordId", event.RecordID).Str("status", string(event.Status)).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(entry.ErrorCode)).
					Str("errorMessage", aws.ToString(entry.ErrorMessage)).
					Str("recordId", event.RecordID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
		return fmt.Errorf("PutEvents: %d entries failed", result.FailedEntryCount)
	}

	log.Debug().Str("recordId", event.RecordID).Str("status", string(event.Status)).Msg("MediaReviewed emitted to EventBridge")
	return nil
}

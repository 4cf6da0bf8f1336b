package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

const opEnvelope = "ingestion.envelope"

// Envelope is the framing of one message in an event stream: the message type selects the
// event shape of Body, and Body is kept verbatim in the raw message log.
type Envelope struct {
	MessageType string          `json:"messageType"`
	Body        json.RawMessage `json:"body"`
}

// HandleEnvelope decodes one framed message and dispatches it to the matching handler.
func (s *Service) HandleEnvelope(ctx context.Context, raw []byte) (Outcome, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		s.logError(opEnvelope, reasonInvalidEvent, err)
		return Outcome{}, newServiceError(opEnvelope, reasonInvalidEvent, err)
	}

	switch envelope.MessageType {
	case MessageTypeClearanceRequest:
		var event ClearanceRequestEvent
		if err := s.decodeBody(envelope, &event); err != nil {
			return Outcome{}, err
		}
		event.Payload = envelope.Body
		return s.HandleClearanceRequest(ctx, event)
	case MessageTypeClearanceDecision:
		var event ClearanceDecisionEvent
		if err := s.decodeBody(envelope, &event); err != nil {
			return Outcome{}, err
		}
		event.Payload = envelope.Body
		return s.HandleClearanceDecision(ctx, event)
	case MessageTypeFinalisation:
		var event FinalisationEvent
		if err := s.decodeBody(envelope, &event); err != nil {
			return Outcome{}, err
		}
		event.Payload = envelope.Body
		return s.HandleFinalisation(ctx, event)
	case MessageTypeImportNotification:
		var event ImportNotificationEvent
		if err := s.decodeBody(envelope, &event); err != nil {
			return Outcome{}, err
		}
		event.Payload = envelope.Body
		return s.HandleImportNotification(ctx, event)
	default:
		err := fmt.Errorf("unknown message type %q", envelope.MessageType)
		s.logError(opEnvelope, "unknown_message_type", err)
		return Outcome{}, newServiceError(opEnvelope, "unknown_message_type", err)
	}
}

func (s *Service) decodeBody(envelope Envelope, target any) error {
	if len(envelope.Body) == 0 {
		err := fmt.Errorf("message %s has no body", envelope.MessageType)
		s.logError(opEnvelope, reasonInvalidEvent, err)
		return newServiceError(opEnvelope, reasonInvalidEvent, err)
	}
	if err := json.Unmarshal(envelope.Body, target); err != nil {
		s.logError(opEnvelope, reasonInvalidEvent, err, zap.String("message_type", envelope.MessageType))
		return newServiceError(opEnvelope, reasonInvalidEvent, err)
	}
	return nil
}

package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event Event) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event Event) ([]byte, error) {
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("advocate: %s", event.Decision),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Peer:* %s", event.Peer)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Resource:* %s", event.Resource)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Score:* %.2f", event.Score)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event Event) ([]byte, error) {
	severity := "info"
	switch {
	case event.Decision == "block" || event.Decision == "auto_deny":
		severity = "error"
	case event.Decision == "flag" || event.Decision == "escalate":
		severity = "warning"
	}

	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("advocate %s: %s", event.Decision, event.Peer),
			"severity": severity,
			"source":   "advocate",
			"custom_details": map[string]any{
				"peer":           event.Peer,
				"resource":       event.Resource,
				"score":          event.Score,
				"reason":         event.Reason,
				"correlation_id": event.CorrelationID,
			},
		},
	}
	return json.Marshal(payload)
}

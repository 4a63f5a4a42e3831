package render

import (
	"encoding/json"
	"strings"

	"github.com/pushbridge/pushbridge/internal/push"
)

func init() {
	Register(push.PlatformApple, "sylk", appleSylk{})
	Register(push.PlatformFirebase, "sylk", firebaseSylk{})
}

// appleSylk renders APNs messages for Sylk-family apps. Incoming calls go
// out as voip pushes, cancels as background pushes, chat messages as alerts.
type appleSylk struct{}

func (appleSylk) Render(in *Input) (*Message, error) {
	req := in.Req

	pushType := "alert"
	priority := "5"
	topic := sylkTopic(req.AppID)
	switch req.Event {
	case push.EventIncomingSession, push.EventIncomingConference:
		pushType = "voip"
		priority = "10"
		topic += ".voip"
	case push.EventCancel:
		pushType = "background"
	}

	headers := map[string]string{
		"apns-push-type":  pushType,
		"apns-expiration": "120",
		"apns-priority":   priority,
		"apns-topic":      topic,
	}
	if pushType == "background" {
		headers["content-available"] = "1"
	}

	var payload map[string]any
	switch req.Event {
	case push.EventCancel:
		payload = map[string]any{
			"event":      req.Event,
			"call-id":    req.CallID,
			"session-id": push.SessionID(req.CallID),
			"reason":     req.Reason,
		}
	case push.EventMessage:
		payload = map[string]any{
			"aps": map[string]any{
				"alert": map[string]any{
					"title": "New message",
					"body":  "From " + req.SipFrom,
				},
				"message_id": req.CallID,
				"sound":      "default",
				"badge":      req.BadgeCount(),
			},
		}
	default:
		payload = map[string]any{
			"event":             req.Event,
			"call-id":           req.CallID,
			"session-id":        push.SessionID(req.CallID),
			"media-type":        req.MediaType,
			"from_uri":          req.SipFrom,
			"from_display_name": req.FromDisplayName,
			"to_uri":            req.SipTo,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Headers: headers, Payload: body}, nil
}

// sylkTopic derives the APNs topic from the bundle id, dropping a trailing
// .dev or .prod environment suffix.
func sylkTopic(appID string) string {
	if strings.HasSuffix(appID, ".dev") || strings.HasSuffix(appID, ".prod") {
		parts := strings.Split(appID, ".")
		return strings.Join(parts[:len(parts)-1], ".")
	}
	return appID
}

// firebaseSylk renders FCM v1 messages for Sylk-family apps.
type firebaseSylk struct{}

func (firebaseSylk) Render(in *Input) (*Message, error) {
	req := in.Req

	fromDisplayName := req.FromDisplayName
	if fromDisplayName == "" {
		fromDisplayName = req.SipFrom
	}

	var data map[string]string
	switch req.Event {
	case push.EventCancel:
		data = map[string]string{
			"event":      req.Event,
			"call-id":    req.CallID,
			"session-id": push.SessionID(req.CallID),
			"reason":     req.Reason,
		}
	case push.EventMessage:
		data = map[string]string{
			"event":    req.Event,
			"from_uri": req.SipFrom,
			"to_uri":   req.SipTo,
		}
	default:
		data = map[string]string{
			"event":             req.Event,
			"call-id":           req.CallID,
			"session-id":        push.SessionID(req.CallID),
			"media-type":        req.MediaType,
			"from_uri":          req.SipFrom,
			"from_display_name": fromDisplayName,
			"to_uri":            req.SipTo,
		}
	}

	message := map[string]any{
		"token": req.Token,
		"data":  data,
		"android": map[string]any{
			"priority": "high",
			"ttl":      "60s",
		},
	}
	if req.Event == push.EventMessage {
		message["notification"] = map[string]any{
			"title": "New message",
			"body":  "From " + req.SipFrom,
			"image": "https://icanblink.com/apple-touch-icon-180x180.png",
		}
		message["apns"] = map[string]any{
			"headers": map[string]any{
				"apns-priority": "5",
			},
		}
		message["android"] = map[string]any{
			"priority": "high",
			"ttl":      "60s",
			"notification": map[string]any{
				"channel_id":            "sylk-messages-sound",
				"sound":                 "default",
				"default_sound":         true,
				"notification_priority": "PRIORITY_HIGH",
			},
		}
	}

	body, err := json.Marshal(map[string]any{"message": message})
	if err != nil {
		return nil, err
	}
	return &Message{Headers: firebaseHeaders(in), Payload: body}, nil
}

// firebaseHeaders picks the FCM auth scheme: a legacy server key when the
// app configures one, an OAuth2 bearer token otherwise.
func firebaseHeaders(in *Input) map[string]string {
	if in.AuthKey != "" {
		return map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "key=" + in.AuthKey,
		}
	}
	return map[string]string{
		"Content-Type":  "application/json; UTF-8",
		"Authorization": "Bearer " + in.AccessToken,
	}
}

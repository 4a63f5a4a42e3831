package render

import (
	"encoding/json"
	"strings"

	"github.com/pushbridge/pushbridge/internal/push"
)

func init() {
	Register(push.PlatformApple, "linphone", appleLinphone{})
	Register(push.PlatformFirebase, "linphone", firebaseLinphone{})
}

const sendTimeLayout = "2006-01-02 15:04:05"

// Linphone expects long-lived pushes; these TTLs come from its client code.
const (
	linphoneAppleTTL    = 2592000
	linphoneFirebaseTTL = 2419199
)

// appleLinphone renders APNs messages for Linphone-family apps. Everything
// goes out as an immediate voip push on the .voip topic.
type appleLinphone struct{}

func (appleLinphone) Render(in *Input) (*Message, error) {
	req := in.Req

	headers := map[string]string{
		"apns-push-type":  "voip",
		"apns-expiration": "10",
		"apns-priority":   "10",
		"apns-topic":      linphoneTopic(req.AppID),
	}

	sendTime := in.now().Format(sendTimeLayout)

	var payload map[string]any
	if req.IsSilent() {
		payload = map[string]any{
			"aps": map[string]any{
				"sound":     "",
				"loc-key":   "IC_SIL",
				"call-id":   req.CallID,
				"send-time": sendTime,
			},
			"from-uri": req.SipFrom,
			"pn_ttl":   linphoneAppleTTL,
		}
	} else {
		payload = map[string]any{
			"aps": map[string]any{
				"alert": map[string]any{
					"loc-key":  "IC_MSG",
					"loc-args": []string{req.SipFrom},
				},
				"sound": "msg.caf",
				"badge": 1,
			},
			"pn_ttl":    linphoneAppleTTL,
			"call-id":   req.CallID,
			"send-time": sendTime,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Headers: headers, Payload: body}, nil
}

// linphoneTopic derives the APNs topic from the bundle id, dropping a
// trailing .dev or .prod suffix and ensuring a single .voip suffix.
func linphoneTopic(appID string) string {
	topic := appID
	if strings.HasSuffix(appID, ".dev") || strings.HasSuffix(appID, ".prod") {
		parts := strings.Split(appID, ".")
		topic = strings.Join(parts[:len(parts)-1], ".")
	}
	if !strings.Contains(topic, ".voip") {
		topic += ".voip"
	}
	return topic
}

// firebaseLinphone renders legacy FCM messages for Linphone-family apps.
type firebaseLinphone struct{}

func (firebaseLinphone) Render(in *Input) (*Message, error) {
	req := in.Req

	payload := map[string]any{
		"to":           req.Token,
		"time_to_live": linphoneFirebaseTTL,
		"priority":     "high",
		"data": map[string]string{
			"call-id":   req.CallID,
			"sip-from":  req.SipFrom,
			"loc-key":   "",
			"loc-args":  req.SipFrom,
			"send-time": in.now().Format(sendTimeLayout),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Headers: firebaseHeaders(in), Payload: body}, nil
}

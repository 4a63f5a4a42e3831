package push

import (
	"fmt"
	"strings"
)

// Canonical platform names. Wire requests may say ios/android/fcm; the
// registry and everything behind it only knows these two.
const (
	PlatformApple    = "apple"
	PlatformFirebase = "firebase"
)

// Events understood by the renderers.
const (
	EventIncomingSession    = "incoming_session"
	EventIncomingConference = "incoming_conference_request"
	EventCancel             = "cancel"
	EventMessage            = "message"
)

// MediaTypes lists the accepted media-type values.
var MediaTypes = []string{"audio", "video", "chat", "sms", "file-transfer"}

// Request is a normalized push request. JSON tags carry the SIP-flavored
// wire aliases (app-id, from, to, ...); the Go names are the internal ones.
// Silent and Badge are pointers so validation can tell "absent" from the
// zero value; IsSilent and BadgeCount apply the defaults (true and 1).
type Request struct {
	AppID           string `json:"app-id"`
	Platform        string `json:"platform"`
	Event           string `json:"event,omitempty"`
	Token           string `json:"token"`
	DeviceID        string `json:"device-id,omitempty"`
	CallID          string `json:"call-id"`
	SipFrom         string `json:"from"`
	FromDisplayName string `json:"from-display-name,omitempty"`
	SipTo           string `json:"to,omitempty"`
	MediaType       string `json:"media-type,omitempty"`
	Silent          *bool  `json:"silent,omitempty"`
	Reason          string `json:"reason,omitempty"`
	Badge           *int   `json:"badge,omitempty"`
}

// IsSilent reports the silent flag, defaulting to true when absent.
func (r *Request) IsSilent() bool {
	if r.Silent == nil {
		return true
	}
	return *r.Silent
}

// BadgeCount reports the badge number, defaulting to 1 when absent.
func (r *Request) BadgeCount() int {
	if r.Badge == nil {
		return 1
	}
	return *r.Badge
}

// RequestID builds the identifier used to correlate log lines for one push.
func (r *Request) RequestID() string {
	return fmt.Sprintf("%s-%s-%s", r.Event, r.AppID, r.CallID)
}

// CanonicalPlatform maps the wire platform names onto the two canonical
// ones: ios/apple become apple, android/fcm/firebase become firebase.
// Anything else is returned lowercased for the caller to reject.
func CanonicalPlatform(platform string) string {
	switch strings.ToLower(platform) {
	case "firebase", "android", "fcm":
		return PlatformFirebase
	case "apple", "ios":
		return PlatformApple
	default:
		return strings.ToLower(platform)
	}
}

// Canonicalize rewrites the platform in place to its canonical name.
func (r *Request) Canonicalize() {
	r.Platform = CanonicalPlatform(r.Platform)
}

// Families with a fixed required-field contract. Custom families registered
// by extensions only get the media-type and event checks.
var familyFields = map[string][]string{
	"sylk":     {"app-id", "call-id", "platform", "from", "token", "silent", "to", "event"},
	"linphone": {"app-id", "call-id", "platform", "from", "token"},
}

// RequiredFields returns the wire-form field names a family insists on, or
// nil when the family carries no fixed contract.
func RequiredFields(family string) []string {
	return familyFields[family]
}

// MissingFields returns the wire-form names of required fields the request
// does not carry, in the family's declaration order.
func (r *Request) MissingFields(family string) []string {
	var missing []string
	for _, field := range familyFields[family] {
		if !r.has(field) {
			missing = append(missing, field)
		}
	}
	return missing
}

func (r *Request) has(field string) bool {
	switch field {
	case "app-id":
		return r.AppID != ""
	case "call-id":
		return r.CallID != ""
	case "platform":
		return r.Platform != ""
	case "from":
		return r.SipFrom != ""
	case "token":
		return r.Token != ""
	case "silent":
		return r.Silent != nil
	case "to":
		return r.SipTo != ""
	case "event":
		return r.Event != ""
	}
	return false
}

// ValidEvent reports whether the event is one the renderers understand.
func ValidEvent(event string) bool {
	switch event {
	case EventIncomingSession, EventIncomingConference, EventCancel, EventMessage:
		return true
	}
	return false
}

// ValidMediaType reports whether the media type is in the accepted set.
func ValidMediaType(mediaType string) bool {
	for _, m := range MediaTypes {
		if mediaType == m {
			return true
		}
	}
	return false
}

// NormalizeDeviceID strips urn:uuid decorations some SIP stacks wrap around
// device identifiers, e.g. "<urn:uuid:1234>" becomes "1234".
func NormalizeDeviceID(deviceID string) string {
	if strings.Contains(deviceID, ">") {
		parts := strings.Split(deviceID, ":")
		return strings.TrimSuffix(parts[len(parts)-1], ">")
	}
	if strings.Contains(deviceID, ":") {
		parts := strings.Split(deviceID, ":")
		return parts[len(parts)-1]
	}
	return deviceID
}

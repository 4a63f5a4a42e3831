package push

// AddRequest is the wire body that registers a device token for an account.
// Successful registrations are echoed back verbatim.
type AddRequest struct {
	AppID     string `json:"app-id"`
	Platform  string `json:"platform"`
	Token     string `json:"token"`
	DeviceID  string `json:"device-id"`
	Silent    *bool  `json:"silent,omitempty"`
	UserAgent string `json:"user-agent,omitempty"`
}

// RemoveRequest is the wire body that unregisters a device token.
type RemoveRequest struct {
	AppID    string `json:"app-id"`
	DeviceID string `json:"device-id,omitempty"`
}

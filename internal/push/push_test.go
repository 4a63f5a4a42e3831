package push

import (
	"crypto/md5"
	"fmt"
	"reflect"
	"testing"
)

func TestSessionID(t *testing.T) {
	callID := "3c2d33ab-8f7a-4e9b-9c1d-0b5a7d6e4f21"

	got := SessionID(callID)
	sum := md5.Sum([]byte(callID))
	want := fmt.Sprintf("%x-%x-%x-%x-%x", sum[0:4], sum[4:6], sum[6:8], sum[8:10], sum[10:16])

	if got != want {
		t.Errorf("SessionID() = %q, want %q", got, want)
	}
	if again := SessionID(callID); again != got {
		t.Errorf("SessionID() not stable: %q then %q", got, again)
	}
	if other := SessionID("another-call"); other == got {
		t.Errorf("SessionID() collides for distinct call IDs")
	}
}

func TestCanonicalPlatform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"apple", PlatformApple},
		{"ios", PlatformApple},
		{"iOS", PlatformApple},
		{"firebase", PlatformFirebase},
		{"android", PlatformFirebase},
		{"fcm", PlatformFirebase},
		{"Android", PlatformFirebase},
		{"windows", "windows"},
	}
	for _, tt := range tests {
		if got := CanonicalPlatform(tt.in); got != tt.want {
			t.Errorf("CanonicalPlatform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMissingFields(t *testing.T) {
	silent := true

	tests := []struct {
		name   string
		family string
		req    Request
		want   []string
	}{
		{
			name:   "sylk complete",
			family: "sylk",
			req: Request{
				AppID: "com.example.sylk", Platform: "apple", Event: "incoming_session",
				Token: "tok", CallID: "cid", SipFrom: "alice@example.com",
				SipTo: "bob@example.com", Silent: &silent,
			},
			want: nil,
		},
		{
			name:   "sylk missing silent and to",
			family: "sylk",
			req: Request{
				AppID: "com.example.sylk", Platform: "apple", Event: "incoming_session",
				Token: "tok", CallID: "cid", SipFrom: "alice@example.com",
			},
			want: []string{"silent", "to"},
		},
		{
			name:   "linphone minimal",
			family: "linphone",
			req: Request{
				AppID: "org.linphone", Platform: "apple",
				Token: "tok", CallID: "cid", SipFrom: "alice@example.com",
			},
			want: nil,
		},
		{
			name:   "linphone missing token",
			family: "linphone",
			req: Request{
				AppID: "org.linphone", Platform: "apple",
				CallID: "cid", SipFrom: "alice@example.com",
			},
			want: []string{"token"},
		},
		{
			name:   "unknown family has no contract",
			family: "custom",
			req:    Request{},
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.MissingFields(tt.family); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MissingFields(%q) = %v, want %v", tt.family, got, tt.want)
			}
		})
	}
}

func TestSilentAndBadgeDefaults(t *testing.T) {
	var req Request
	if !req.IsSilent() {
		t.Error("IsSilent() = false for absent flag, want true")
	}
	if got := req.BadgeCount(); got != 1 {
		t.Errorf("BadgeCount() = %d for absent badge, want 1", got)
	}

	loud := false
	zero := 0
	req = Request{Silent: &loud, Badge: &zero}
	if req.IsSilent() {
		t.Error("IsSilent() = true for explicit false")
	}
	if got := req.BadgeCount(); got != 0 {
		t.Errorf("BadgeCount() = %d for explicit 0, want 0", got)
	}
}

func TestNormalizeDeviceID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<urn:uuid:9b35b0bd-64c6-4146-b82b-2a3a58563342>", "9b35b0bd-64c6-4146-b82b-2a3a58563342"},
		{"urn:uuid:9b35b0bd", "9b35b0bd"},
		{"plain-device", "plain-device"},
	}
	for _, tt := range tests {
		if got := NormalizeDeviceID(tt.in); got != tt.want {
			t.Errorf("NormalizeDeviceID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidEvent(t *testing.T) {
	for _, event := range []string{EventIncomingSession, EventIncomingConference, EventCancel, EventMessage} {
		if !ValidEvent(event) {
			t.Errorf("ValidEvent(%q) = false", event)
		}
	}
	if ValidEvent("outgoing_session") {
		t.Error(`ValidEvent("outgoing_session") = true`)
	}
}

func TestValidMediaType(t *testing.T) {
	for _, m := range MediaTypes {
		if !ValidMediaType(m) {
			t.Errorf("ValidMediaType(%q) = false", m)
		}
	}
	if ValidMediaType("screen-share") {
		t.Error(`ValidMediaType("screen-share") = true`)
	}
}

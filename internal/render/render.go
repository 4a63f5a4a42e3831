// Package render builds the vendor-specific headers and JSON payloads for
// push notifications. Renderers are registered per (platform, family) pair;
// the sylk and linphone families ship built in, extensions can add more.
package render

import (
	"fmt"
	"sync"
	"time"

	"github.com/pushbridge/pushbridge/internal/push"
)

// Input carries one normalized request plus the binding-scoped values a
// renderer may need. Now stamps send-time fields; the zero value means
// time.Now().
type Input struct {
	Req         *push.Request
	Voip        bool
	AuthKey     string // FCM legacy server key
	AccessToken string // FCM OAuth2 bearer token
	Now         time.Time
}

func (in *Input) now() time.Time {
	if in.Now.IsZero() {
		return time.Now()
	}
	return in.Now
}

// Message is a rendered vendor request: the header set and the JSON body.
type Message struct {
	Headers map[string]string
	Payload []byte
}

// Renderer builds the wire message for one push request.
type Renderer interface {
	Render(in *Input) (*Message, error)
}

type rendererKey struct {
	platform string
	family   string
}

var (
	renderersMu sync.RWMutex
	renderers   = map[rendererKey]Renderer{}
)

// Register makes a renderer available for a (platform, family) pair. It
// panics on a nil renderer or a duplicate registration, both of which are
// programming errors.
func Register(platform, family string, r Renderer) {
	renderersMu.Lock()
	defer renderersMu.Unlock()
	if r == nil {
		panic("render: Register renderer is nil")
	}
	key := rendererKey{platform: platform, family: family}
	if _, dup := renderers[key]; dup {
		panic(fmt.Sprintf("render: Register called twice for %s/%s", platform, family))
	}
	renderers[key] = r
}

// Lookup returns the renderer for a (platform, family) pair.
func Lookup(platform, family string) (Renderer, bool) {
	renderersMu.RLock()
	defer renderersMu.RUnlock()
	r, ok := renderers[rendererKey{platform: platform, family: family}]
	return r, ok
}

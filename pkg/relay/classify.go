// ABOUTME: Role classification for new connections
// ABOUTME: Explicit hello messages first, user-agent sniffing as a swappable fallback
package relay

import (
	"strings"

	"github.com/Sendspin/micrelay/pkg/protocol"
)

// Classifier decides connection roles
type Classifier interface {
	// FromHello maps an explicit identification message to a role
	FromHello(hello *protocol.Hello) (Role, bool)

	// FromUserAgent guesses a role from the upgrade request
	FromUserAgent(userAgent string) (Role, bool)
}

// UserAgentClassifier matches user-agent substrings against token lists
type UserAgentClassifier struct {
	ConsumerTokens []string
	ProducerTokens []string
}

// DefaultClassifier recognises common browsers and ESP32 WebSocket stacks
func DefaultClassifier() *UserAgentClassifier {
	return &UserAgentClassifier{
		ConsumerTokens: []string{"Mozilla", "Chrome", "Safari", "Firefox", "Edge"},
		ProducerTokens: []string{"ESP32", "arduino-WebSocket", "esp-idf"},
	}
}

// FromHello classifies "browser" as consumer and "esp32" as producer
func (u *UserAgentClassifier) FromHello(hello *protocol.Hello) (Role, bool) {
	if hello == nil {
		return RoleUnclassified, false
	}
	switch strings.ToLower(hello.Client) {
	case protocol.ClientBrowser:
		return RoleConsumer, true
	case protocol.ClientESP32:
		return RoleProducer, true
	default:
		return RoleUnclassified, false
	}
}

// FromUserAgent checks producer tokens first, since some device stacks
// also send a Mozilla-compatible string
func (u *UserAgentClassifier) FromUserAgent(userAgent string) (Role, bool) {
	if userAgent == "" {
		return RoleUnclassified, false
	}
	for _, token := range u.ProducerTokens {
		if strings.Contains(userAgent, token) {
			return RoleProducer, true
		}
	}
	for _, token := range u.ConsumerTokens {
		if strings.Contains(userAgent, token) {
			return RoleConsumer, true
		}
	}
	return RoleUnclassified, false
}

package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffCapsAt20Seconds(t *testing.T) {
	assert.Equal(t, 5*time.Second, backoff(1))
	assert.Equal(t, 20*time.Second, backoff(16))
	assert.Equal(t, 20*time.Second, backoff(100))
}

func TestAuthBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, 5*time.Second, authBackoff(0))
	assert.Equal(t, 10*time.Second, authBackoff(1))
	assert.Equal(t, 20*time.Second, authBackoff(2))
	assert.Equal(t, 60*time.Second, authBackoff(10))
}

func TestBuildWSURLSwapsSchemeAndSetsFingerprint(t *testing.T) {
	u, err := buildWSURL("https://api.todofor.ai", "ZmFrZQ==")
	assert := assert.New(t)
	assert.NoError(err)
	assert.Contains(u, "wss://api.todofor.ai")
	assert.Contains(u, "/ws/v1/edge")
	assert.Contains(u, "fingerprint=ZmFrZQ%3D%3D")
}

func TestDeriveHTTPBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.todofor.ai", DeriveHTTPBaseURL("wss://api.todofor.ai"))
	assert.Equal(t, "http://localhost:8080", DeriveHTTPBaseURL("ws://localhost:8080"))
	assert.Equal(t, "https://api.todofor.ai", DeriveHTTPBaseURL("https://api.todofor.ai"))
}

package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserChannel(t *testing.T) {
	assert.Equal(t, "events:u-42", UserChannel("u-42"))
}

func TestPresenceKey(t *testing.T) {
	assert.Equal(t, "presence:u-42", PresenceKey("u-42"))
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient("not a url")
	assert.Error(t, err)
}

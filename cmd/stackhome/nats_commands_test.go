package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	natspkg "github.com/brojonat/stackhome/service/nats"
)

func TestSubscription(t *testing.T) {
	stream, subject, err := subscription("feeds", testWallet)
	require.NoError(t, err)
	assert.Equal(t, natspkg.FeedStreamName, stream)
	assert.Equal(t, natspkg.FeedSubject(testWallet), subject)

	stream, subject, err = subscription("home", testWallet)
	require.NoError(t, err)
	assert.Equal(t, natspkg.HomeStreamName, stream)
	assert.Equal(t, natspkg.HomeSubject(testWallet, "*"), subject)

	_, _, err = subscription("blocks", testWallet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event kind")
}

func TestSubscribeCommand_RequiresAddress(t *testing.T) {
	_, err := runApp(t, "nats", "subscribe")
	require.Error(t, err)
}

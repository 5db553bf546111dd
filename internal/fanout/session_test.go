package fanout

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-core/internal/events"
	"trading-core/internal/stats"
)

func statsUpdateFixture(userID string) stats.BotStatsUpdate {
	return stats.BotStatsUpdate{BotID: "bot-1", UserID: userID, TotalTrades: 5}
}

func TestHandlePingRepliesPong(t *testing.T) {
	s := NewSession("u1", events.NewBus())
	reply, err := s.Handle([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	require.NotNil(t, reply)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(reply, &decoded))
	assert.Equal(t, "pong", decoded["type"])
}

func TestSubscribeUnsubscribeChannel(t *testing.T) {
	s := NewSession("u1", events.NewBus())
	_, err := s.Handle([]byte(`{"type":"subscribe","channels":["orders"]}`))
	require.NoError(t, err)
	assert.True(t, s.hasChannel(ChannelOrders))

	_, err = s.Handle([]byte(`{"type":"unsubscribe","channels":["orders"]}`))
	require.NoError(t, err)
	assert.False(t, s.hasChannel(ChannelOrders))
}

func TestSubscribeTickerRegistersChannelAndSymbol(t *testing.T) {
	s := NewSession("u1", events.NewBus())
	_, err := s.Handle([]byte(`{"type":"subscribe_ticker","symbols":["BTCUSDT"]}`))
	require.NoError(t, err)
	assert.True(t, s.hasChannel(ChannelTicker))
	assert.True(t, s.hasSymbol("BTCUSDT"))
	assert.False(t, s.hasSymbol("ETHUSDT"))
}

func TestPushDropsOnFullQueueAndCountsIt(t *testing.T) {
	s := NewSession("u1", events.NewBus())
	for i := 0; i < outboundBuffer; i++ {
		s.push(ChannelTicker, i)
	}
	assert.Equal(t, uint64(0), s.DroppedCount())

	s.push(ChannelTicker, "one too many")
	assert.Equal(t, uint64(1), s.DroppedCount())
}

func TestHubRelaysBotStatsToMatchingUserOnly(t *testing.T) {
	bus := events.NewBus()
	hub := NewHub(bus)
	defer hub.Close()

	mine := NewSession("user-1", bus)
	other := NewSession("user-2", bus)
	mine.addChannels([]string{ChannelBotStats})
	other.addChannels([]string{ChannelBotStats})
	hub.Register(mine)
	hub.Register(other)
	defer mine.Close()
	defer other.Close()

	bus.Publish(events.EventBotStatsUpdate, statsUpdateFixture("user-1"))

	select {
	case msg := <-mine.Outbound():
		assert.Equal(t, ChannelBotStats, msg.Channel)
	case <-time.After(time.Second):
		t.Fatal("expected session did not receive the stats update")
	}

	select {
	case <-other.Outbound():
		t.Fatal("other user's session should not receive this update")
	case <-time.After(50 * time.Millisecond):
	}
}

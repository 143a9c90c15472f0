package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"campus-election-backend/errs"
	"campus-election-backend/metrics"
	"campus-election-backend/models"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(zap.NewNop())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func TestHubFanOut(t *testing.T) {
	hub := startHub(t)
	before := testutil.ToFloat64(metrics.WebsocketClients)

	a, cancelA := hub.Subscribe(1)
	b, cancelB := hub.Subscribe(1)
	other, cancelOther := hub.Subscribe(2)
	defer cancelB()
	defer cancelOther()
	require.Eventually(t, func() bool { return hub.Subscribers(1) == 2 && hub.Subscribers(2) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, before+3, testutil.ToFloat64(metrics.WebsocketClients))

	hub.BroadcastTally(1, models.TallyUpdate{ElectionID: 1, CandidateID: 4, VoteCount: 2})

	for _, ch := range []<-chan []byte{a, b} {
		var msg models.WebSocketMessage
		require.NoError(t, json.Unmarshal(<-ch, &msg))
		assert.Equal(t, MessageTally, msg.Type)
		assert.Equal(t, uint(1), msg.ElectionID)
	}
	select {
	case <-other:
		t.Fatal("election 2 subscriber received election 1 update")
	default:
	}

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Eventually(t, func() bool { return hub.Subscribers(1) == 1 }, time.Second, 5*time.Millisecond)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := startHub(t)
	ch, cancel := hub.Subscribe(9)
	defer cancel()
	require.Eventually(t, func() bool { return hub.Subscribers(9) == 1 }, time.Second, 5*time.Millisecond)

	// the channel buffer holds 64 messages and nobody reads
	for i := 0; i < 65; i++ {
		hub.BroadcastTally(9, models.StatusChange{ElectionID: 9, To: models.StatusCompleted})
	}
	assert.Equal(t, 0, hub.Subscribers(9))

	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, 64, n)
}

func TestMessageType(t *testing.T) {
	assert.Equal(t, MessageTally, messageType(&models.TallyUpdate{}))
	assert.Equal(t, MessageStatus, messageType(models.StatusChange{}))
	assert.Equal(t, MessageOther, messageType("hello"))
}

type lookup map[uint]bool

func (l lookup) GetByID(_ context.Context, id uint) (*models.Election, error) {
	if !l[id] {
		return nil, errs.ErrElectionNotFound
	}
	return &models.Election{ID: id}, nil
}

func TestHandlerStreamsUpdates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := startHub(t)
	h := NewHandler(hub, lookup{5: true}, []string{"https://vote.example.edu"}, zap.NewNop())

	r := gin.New()
	r.GET("/elections/:id/ws", h.Serve)
	srv := httptest.NewServer(r)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	resp, err := http.Get(srv.URL + "/elections/6/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	header := http.Header{"Origin": {"https://evil.example.com"}}
	_, resp, err = websocket.DefaultDialer.Dial(wsURL+"/elections/5/ws", header)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}

	header = http.Header{"Origin": {"https://vote.example.edu"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/elections/5/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers(5) == 1 }, time.Second, 5*time.Millisecond)
	hub.BroadcastTally(5, models.TallyUpdate{ElectionID: 5, CandidateID: 1, VoteCount: 3})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg models.WebSocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTally, msg.Type)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Subscribers(5) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOriginChecker(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://a.example")

	assert.True(t, originChecker(nil)(req))
	assert.True(t, originChecker([]string{"*"})(req))
	assert.True(t, originChecker([]string{"https://a.example"})(req))
	assert.False(t, originChecker([]string{"https://b.example"})(req))
}

package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func TestStreamHandlerForwardsEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	bus := NewBus()
	r := gin.New()
	r.GET("/events/ws", NewGinHandlers(bus).StreamHandler())
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	got := make(chan Envelope, 1)
	go func() {
		var env Envelope
		if err := conn.ReadJSON(&env); err == nil {
			got <- env
		}
	}()

	// the subscription is registered after the upgrade, so publish until it lands
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case env := <-got:
			if env.Event != EventKillSwitch {
				t.Fatalf("event=%s", env.Event)
			}
			return
		case <-tick.C:
			bus.Publish(EventKillSwitch, map[string]string{"reason": "test"})
		case <-deadline:
			t.Fatal("no event received over the stream")
		}
	}
}

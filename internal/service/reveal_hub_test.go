package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newWatchClient(hub *RevealHub, revealID string) *WatchClient {
	return &WatchClient{
		Hub:      hub,
		Send:     make(chan []byte, 16),
		RevealID: revealID,
	}
}

func TestPushLocalDeliversToWatchers(t *testing.T) {
	hub := NewRevealHub(nil)
	c1 := newWatchClient(hub, "r1")
	c2 := newWatchClient(hub, "r2")
	hub.addWatcher(c1)
	hub.addWatcher(c2)

	hub.pushLocal("r1", []byte("ping"))

	assert.Len(t, c1.Send, 1)
	assert.Len(t, c2.Send, 0, "事件不跨 reveal 串台")
}

// 推送和断连并发时不能撞上已关闭的 Send 通道
func TestPushLocalConcurrentDisconnect(t *testing.T) {
	hub := NewRevealHub(nil)

	const n = 64
	clients := make([]*WatchClient, n)
	for i := range clients {
		clients[i] = newWatchClient(hub, "r1")
		hub.addWatcher(clients[i])
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			hub.pushLocal("r1", []byte("event"))
		}
	}()
	go func() {
		defer wg.Done()
		for _, c := range clients {
			hub.removeWatcher(c)
		}
	}()
	wg.Wait()

	hub.mu.RLock()
	assert.Empty(t, hub.watchers["r1"])
	hub.mu.RUnlock()
}

func TestRemoveWatcherIdempotent(t *testing.T) {
	hub := NewRevealHub(nil)
	client := newWatchClient(hub, "r1")
	hub.addWatcher(client)

	hub.removeWatcher(client)
	hub.removeWatcher(client)

	// 再推一条不应有接收者
	hub.pushLocal("r1", []byte("event"))
}

func TestDropClientAfterStop(t *testing.T) {
	hub := NewRevealHub(nil)
	client := newWatchClient(hub, "r1")
	hub.Stop()

	done := make(chan struct{})
	go func() {
		hub.dropClient(client)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub 停止后连接清理被阻塞")
	}
}

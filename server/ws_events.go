package server

import (
	"net/http"
	"sync"
	"time"

	"CoralPlay/logger"
	"CoralPlay/model"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 控制接口只在本机使用，放开跨域检查
	CheckOrigin: func(r *http.Request) bool { return true },
}

// 单个连接待发事件的缓冲上限，慢消费者超限后断开
const feedBuffer = 64

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// handleEventFeed 把事件总线上的所有事件按JSON推给WebSocket客户端
func (s *Server) handleEventFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket升级失败", logger.ErrorField(err))
		return
	}

	events := make(chan model.Event, feedBuffer)
	var once sync.Once
	done := make(chan struct{})
	closeDone := func() { once.Do(func() { close(done) }) }

	subID := s.bus.Subscribe(model.EventAny, func(ev model.Event) {
		select {
		case events <- ev:
		case <-done:
		default:
			// 消费跟不上就丢弃，事件推送只是观测通道
		}
	})

	logger.Debug("事件推送连接建立", logger.String("remote", r.RemoteAddr))

	// 读循环只用来发现连接关闭
	go func() {
		defer closeDone()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.bus.Unsubscribe(model.EventAny, subID)
		closeDone()
		conn.Close()
		logger.Debug("事件推送连接关闭", logger.String("remote", r.RemoteAddr))
	}()

	for {
		select {
		case <-done:
			return
		case ev := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package ws

import (
	"encoding/json"
	"sync/atomic"

	"portal/internal/metrics"

	"github.com/rs/zerolog/log"
)

// 变更主题，客户端收到后重新拉取对应列表。
const (
	TopicDocuments = "documents"
	TopicMeeting   = "meeting"
	TopicRanks     = "ranks"
	TopicUsers     = "users"
)

// Event 是推送给客户端的变更通知，不携带业务数据。
type Event struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// Hub 持有全部变更订阅连接，所有状态只在 Run 所在的 goroutine 内修改。
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	stop       chan struct{}
	online     int32
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		stop:       make(chan struct{}),
	}
}

// Run 处理注册、注销与广播，直到 Stop 被调用。
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			atomic.StoreInt32(&h.online, int32(len(h.clients)))
			metrics.WsConnections.Inc()
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	atomic.StoreInt32(&h.online, int32(len(h.clients)))
	metrics.WsConnections.Dec()
}

// Stop 关闭全部连接并结束 Run，可重复调用。
func (h *Hub) Stop() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
}

// Publish 广播一条变更通知；缓冲区已满时丢弃，客户端下次轮询仍会拿到最新数据。
func (h *Hub) Publish(topic string) {
	b, err := json.Marshal(Event{Type: "changed", Topic: topic})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- b:
		metrics.WsEventsTotal.WithLabelValues(topic).Inc()
	default:
		log.Warn().Str("topic", topic).Msg("change feed buffer full, event dropped")
	}
}

// Online 返回当前订阅连接数。
func (h *Hub) Online() int { return int(atomic.LoadInt32(&h.online)) }

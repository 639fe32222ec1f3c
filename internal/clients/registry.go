package clients

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultBufferSize = 16

// ErrUnknownClient 表示目标页面已断开或从未连接。
var ErrUnknownClient = errors.New("unknown client")

// Client 是一个已连接的页面，消息通过 Messages() 按序送达。
type Client struct {
	ID          string
	URL         string
	ConnectedAt time.Time

	controlled bool
	ch         chan Message
}

// Messages 返回消息通道，Disconnect 后通道关闭。
func (c *Client) Messages() <-chan Message {
	return c.ch
}

// Info 是页面的只读快照。
type Info struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Controlled  bool      `json:"controlled"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Registry 维护当前连接的页面，对应 self.clients。
type Registry struct {
	mu      sync.Mutex
	clients map[string]*Client
	claimed bool
	buffer  int
	logger  logrus.FieldLogger
	now     func() time.Time
}

// NewRegistry 创建页面注册表；bufferSize <= 0 时使用默认缓冲。
func NewRegistry(logger logrus.FieldLogger, bufferSize int) *Registry {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		clients: make(map[string]*Client),
		buffer:  bufferSize,
		logger:  logger,
		now:     time.Now,
	}
}

// Connect 注册一个页面；Claim 之后连接的页面立即受控。
func (r *Registry) Connect(url string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	client := &Client{
		ID:          uuid.NewString(),
		URL:         url,
		ConnectedAt: r.now().UTC(),
		controlled:  r.claimed,
		ch:          make(chan Message, r.buffer),
	}
	r.clients[client.ID] = client
	return client
}

// Disconnect 移除页面并关闭其消息通道，重复调用无副作用。
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[id]
	if !ok {
		return
	}
	delete(r.clients, id)
	close(client.ch)
}

// Claim 接管全部已连接页面，返回新接管的数量。
func (r *Registry) Claim() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.claimed = true
	count := 0
	for _, client := range r.clients {
		if !client.controlled {
			client.controlled = true
			count++
		}
	}
	return count
}

// Release 撤销控制权，Close 调度器时调用。
func (r *Registry) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.claimed = false
	for _, client := range r.clients {
		client.controlled = false
	}
}

// MatchAll 返回页面快照，按连接时间排序；includeUncontrolled 为 false 时只返回受控页面。
func (r *Registry) MatchAll(includeUncontrolled bool) []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]Info, 0, len(r.clients))
	for _, client := range r.clients {
		if !includeUncontrolled && !client.controlled {
			continue
		}
		result = append(result, Info{
			ID:          client.ID,
			URL:         client.URL,
			Controlled:  client.controlled,
			ConnectedAt: client.ConnectedAt,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ConnectedAt.Equal(result[j].ConnectedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].ConnectedAt.Before(result[j].ConnectedAt)
	})
	return result
}

// Post 向单个页面投递消息，通道已满时丢弃并返回 false。
func (r *Registry) Post(id string, msg Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[id]
	if !ok {
		return false, ErrUnknownClient
	}
	return r.deliver(client, msg), nil
}

// Broadcast 向页面群发消息，返回成功入队的数量。
func (r *Registry) Broadcast(msg Message, includeUncontrolled bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for _, client := range r.clients {
		if !includeUncontrolled && !client.controlled {
			continue
		}
		if r.deliver(client, msg) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) deliver(client *Client, msg Message) bool {
	select {
	case client.ch <- msg:
		return true
	default:
		r.logger.WithFields(logrus.Fields{
			"action":    "client_message_dropped",
			"client_id": client.ID,
			"type":      msg.Type,
		}).Warn("client_message_dropped")
		return false
	}
}

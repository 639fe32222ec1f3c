// Package notify 管理推送通知：解析推送负载、保存待处理通知并处理用户点击。
package notify

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	ActionOpen  = "open"
	ActionClose = "close"
)

// ErrUnknownNotification 表示通知不存在或已被关闭。
var ErrUnknownNotification = errors.New("unknown notification")

// Action 是通知上的按钮。
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Data 随通知携带的附加数据。
type Data struct {
	URL string `json:"url"`
}

// Notification 对应 registration.showNotification 的参数。
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Icon      string    `json:"icon,omitempty"`
	Badge     string    `json:"badge,omitempty"`
	Vibrate   []int     `json:"vibrate,omitempty"`
	Data      Data      `json:"data"`
	Actions   []Action  `json:"actions"`
	CreatedAt time.Time `json:"created_at"`
}

// Defaults 是推送负载缺省字段时使用的值，图标类 URL 已解析为绝对地址。
type Defaults struct {
	Title   string
	Body    string
	URL     string
	Icon    string
	Badge   string
	Vibrate []int
}

// Click 是一次通知点击的结果；OpenURL 非空时调用方应打开该地址。
type Click struct {
	Notification Notification
	Action       string
	OpenURL      string
}

type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// Center 保存已展示、尚未被点击关闭的通知。
type Center struct {
	defaults Defaults
	now      func() time.Time

	mu     sync.Mutex
	active map[string]Notification
}

// NewCenter 创建通知中心。
func NewCenter(defaults Defaults) *Center {
	return &Center{
		defaults: defaults,
		now:      time.Now,
		active:   make(map[string]Notification),
	}
}

// FromPush 解析推送负载；负载为空或不是 JSON 对象时返回 false，不展示任何通知。
func (c *Center) FromPush(data []byte) (Notification, bool) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Notification{}, false
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Notification{}, false
	}

	n := Notification{
		ID:        uuid.NewString(),
		Title:     firstNonEmpty(p.Title, c.defaults.Title),
		Body:      firstNonEmpty(p.Body, c.defaults.Body),
		Icon:      c.defaults.Icon,
		Badge:     c.defaults.Badge,
		Vibrate:   append([]int(nil), c.defaults.Vibrate...),
		Data:      Data{URL: firstNonEmpty(p.URL, c.defaults.URL)},
		Actions:   []Action{{Action: ActionOpen, Title: "Open"}, {Action: ActionClose, Title: "Close"}},
		CreatedAt: c.now().UTC(),
	}
	return n, true
}

// Show 登记通知直到被点击。
func (c *Center) Show(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[n.ID] = n
}

// Active 返回尚未关闭的通知，按创建时间排序。
func (c *Center) Active() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]Notification, 0, len(c.active))
	for _, n := range c.active {
		result = append(result, n)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Activate 处理点击：无论何种动作都会关闭通知，只有 open 产生需要打开的 URL。
func (c *Center) Activate(id, action string) (Click, error) {
	c.mu.Lock()
	n, ok := c.active[id]
	if ok {
		delete(c.active, id)
	}
	c.mu.Unlock()

	if !ok {
		return Click{}, ErrUnknownNotification
	}
	click := Click{Notification: n, Action: action}
	if action == ActionOpen {
		click.OpenURL = n.Data.URL
	}
	return click, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

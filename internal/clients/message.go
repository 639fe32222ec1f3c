package clients

// 页面与调度器之间往来的消息类型。
const (
	TypeSkipWaiting    = "SKIP_WAITING"
	TypeClearCache     = "CLEAR_CACHE"
	TypeGetCacheInfo   = "GET_CACHE_INFO"
	TypeCacheInfo      = "CACHE_INFO"
	TypeBackgroundSync = "BACKGROUND_SYNC"
	TypeNotification   = "NOTIFICATION"
)

// Message 是 postMessage 风格的 JSON 负载，未使用的字段在序列化时省略。
type Message struct {
	Type         string   `json:"type"`
	URL          string   `json:"url,omitempty"`
	Caches       []string `json:"caches,omitempty"`
	Notification any      `json:"notification,omitempty"`
}

// ReplyPort 对应 MessageChannel 的回复端口，GET_CACHE_INFO 通过它回传结果。
type ReplyPort interface {
	PostMessage(Message)
}

// ReplyFunc 让普通函数满足 ReplyPort。
type ReplyFunc func(Message)

func (f ReplyFunc) PostMessage(msg Message) {
	f(msg)
}

// ChannelPort 是基于带缓冲 channel 的 ReplyPort，写满时丢弃。
type ChannelPort chan Message

func (p ChannelPort) PostMessage(msg Message) {
	select {
	case p <- msg:
	default:
	}
}

package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject 是未配置时 NATSSink 发布到的 subject。
const DefaultSubject = "findsig.reports"

const (
	KindInfected = "infected"
	KindFailed   = "failed"
)

// Publisher 是 NATSSink 需要的最小发布能力；*nats.Conn 满足它。
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Event 是发布到 NATS 的单条结论。
type Event struct {
	Kind               string    `json:"kind"`
	Path               string    `json:"path"`
	Error              string    `json:"error,omitempty"`
	RunID              string    `json:"run_id"`
	PatternFingerprint string    `json:"pattern_fingerprint"`
	Time               time.Time `json:"time"`
}

// Meta 是每条事件都携带的运行级信息。
type Meta struct {
	RunID              string
	PatternFingerprint string
}

// NATSSink 把每个结论编码成一条 JSON 消息发布出去。
// 并发安全依赖 Publisher 本身（*nats.Conn 是并发安全的）。
type NATSSink struct {
	pub     Publisher
	subject string
	meta    Meta
	now     func() time.Time
}

func NewNATSSink(pub Publisher, subject string, meta Meta) *NATSSink {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{pub: pub, subject: subject, meta: meta, now: time.Now}
}

func (s *NATSSink) Infected(path string) error {
	return s.publish(Event{Kind: KindInfected, Path: path})
}

func (s *NATSSink) Failed(path string, cause error) error {
	ev := Event{Kind: KindFailed, Path: path}
	if cause != nil {
		ev.Error = cause.Error()
	}
	return s.publish(ev)
}

// Flush 在 Publisher 支持时等待已发布消息被服务器确认。
func (s *NATSSink) Flush() error {
	if f, ok := s.pub.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

func (s *NATSSink) publish(ev Event) error {
	ev.RunID = s.meta.RunID
	ev.PatternFingerprint = s.meta.PatternFingerprint
	ev.Time = s.now().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("编码事件失败：%w", err)
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		return fmt.Errorf("发布到 %s 失败：%w", s.subject, err)
	}
	return nil
}

// DialNATS 连接 NATS 服务器。连接失败直接返回错误，不在后台重试首连。
func DialNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("findsig"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, fmt.Errorf("连接 NATS %s 失败：%w", url, err)
	}
	return nc, nil
}

package report

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu      sync.Mutex
	msgs    map[string][][]byte
	err     error
	flushed int
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.msgs == nil {
		p.msgs = make(map[string][][]byte)
	}
	p.msgs[subject] = append(p.msgs[subject], data)
	return nil
}

func (p *fakePublisher) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushed++
	return nil
}

func TestNATSSink_PublishesEvents(t *testing.T) {
	pub := &fakePublisher{}
	s := NewNATSSink(pub, "", Meta{RunID: "run-1", PatternFingerprint: "00000000deadbeef"})
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Infected("/bin/evil"))
	require.NoError(t, s.Failed("/bin/gone", errors.New("no such file")))

	msgs := pub.msgs[DefaultSubject]
	require.Len(t, msgs, 2)

	var ev Event
	require.NoError(t, json.Unmarshal(msgs[0], &ev))
	require.True(t, fixed.Equal(ev.Time), "time=%v", ev.Time)
	ev.Time = time.Time{}
	require.Equal(t, Event{
		Kind:               KindInfected,
		Path:               "/bin/evil",
		RunID:              "run-1",
		PatternFingerprint: "00000000deadbeef",
	}, ev)

	ev = Event{}
	require.NoError(t, json.Unmarshal(msgs[1], &ev))
	require.Equal(t, KindFailed, ev.Kind)
	require.Equal(t, "no such file", ev.Error)

	require.NoError(t, s.Flush())
	require.Equal(t, 1, pub.flushed)
}

func TestNATSSink_InfectedOmitsErrorField(t *testing.T) {
	pub := &fakePublisher{}
	s := NewNATSSink(pub, "custom.subject", Meta{})
	require.NoError(t, s.Infected("/x"))

	raw := pub.msgs["custom.subject"]
	require.Len(t, raw, 1)
	require.NotContains(t, string(raw[0]), `"error"`)
}

func TestNATSSink_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection closed")}
	s := NewNATSSink(pub, "s", Meta{})
	err := s.Infected("/x")
	require.ErrorIs(t, err, pub.err)
}

type plainPublisher struct{}

func (plainPublisher) Publish(string, []byte) error { return nil }

func TestNATSSink_FlushWithoutFlusher(t *testing.T) {
	require.NoError(t, NewNATSSink(plainPublisher{}, "s", Meta{}).Flush())
}

func TestDialNATS_Unreachable(t *testing.T) {
	_, err := DialNATS("nats://127.0.0.1:1")
	require.Error(t, err)
}

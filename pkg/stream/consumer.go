package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mikeboe/hyperresearch/pkg/research"
)

var (
	// deltasTotal counts consumed deltas by kind and outcome
	deltasTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hyperresearch_stream_deltas_total",
		Help: "Stream deltas consumed by kind and result",
	}, []string{"kind", "result"})
)

// ResearchDispatcher receives research events decoded from the stream
type ResearchDispatcher interface {
	AddActivity(item research.ActivityItem, progress *research.Progress)
	AddSource(item research.SourceItem)
}

// BlockUpdater owns the document block. The consumer hands it a pure
// transition from the previous block to the next one.
type BlockUpdater interface {
	UpdateBlock(fn func(prev Block) Block)
}

// MessageIDSetter stores the server-assigned id of the user message
type MessageIDSetter interface {
	SetUserMessageID(id string)
}

// activityPayload is the content of an activity-delta
type activityPayload struct {
	research.ActivityItem
	CompletedSteps *int `json:"completedSteps,omitempty"`
	TotalSteps     *int `json:"totalSteps,omitempty"`
}

// Consumer applies newly appended deltas exactly once. It remembers the index
// of the last delta it processed and only looks past it on each call.
type Consumer struct {
	mu       sync.Mutex
	cursor   int
	research ResearchDispatcher
	blocks   BlockUpdater
	ids      MessageIDSetter
	validate *validator.Validate

	Logger *slog.Logger
}

// NewConsumer wires a consumer to its collaborators. blocks and ids may be nil,
// in which case the matching deltas are consumed and dropped.
func NewConsumer(r ResearchDispatcher, blocks BlockUpdater, ids MessageIDSetter) *Consumer {
	return &Consumer{
		cursor:   -1,
		research: r,
		blocks:   blocks,
		ids:      ids,
		validate: validator.New(),
		Logger:   slog.Default(),
	}
}

// Cursor returns the index of the last processed delta, -1 if none
func (c *Consumer) Cursor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// SetCursor restores a persisted cursor
func (c *Consumer) SetCursor(cursor int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cursor < -1 {
		cursor = -1
	}
	c.cursor = cursor
}

// Reset rewinds the cursor for a new stream
func (c *Consumer) Reset() {
	c.SetCursor(-1)
}

// Consume processes the deltas appended since the previous call and returns
// how many it looked at. Calling it again with the same or a shorter sequence
// is a no-op; the cursor never moves backwards, use Reset for a new stream.
func (c *Consumer) Consume(deltas []json.RawMessage) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := c.cursor + 1
	if start >= len(deltas) {
		return 0
	}
	pending := deltas[start:]
	c.cursor = len(deltas) - 1

	for i, raw := range pending {
		c.apply(start+i, raw)
	}
	return len(pending)
}

func (c *Consumer) apply(index int, raw json.RawMessage) {
	d, err := ParseDelta(raw)
	if err != nil {
		c.Logger.Warn("Received malformed delta", "index", index, "error", err)
		deltasTotal.WithLabelValues("unknown", "malformed").Inc()
		return
	}

	if err := c.applyDelta(d); err != nil {
		c.Logger.Error("Failed to process delta", "index", index, "type", d.Type, "error", err)
		deltasTotal.WithLabelValues(metricKind(d.Type), "invalid").Inc()
		return
	}
	deltasTotal.WithLabelValues(metricKind(d.Type), "applied").Inc()
}

func (c *Consumer) applyDelta(d Delta) error {
	switch d.Type {
	case UserMessageID:
		id, err := d.Text()
		if err != nil {
			return err
		}
		if c.ids != nil {
			c.ids.SetUserMessageID(id)
		}
		return nil

	case ActivityDelta:
		var payload activityPayload
		if err := c.decode(d, &payload); err != nil {
			return err
		}
		c.Logger.Debug("Adding activity", "message", payload.Message, "kind", payload.Kind)
		c.research.AddActivity(payload.ActivityItem, payload.progress())
		return nil

	case SourceDelta:
		var source research.SourceItem
		if err := c.decode(d, &source); err != nil {
			return err
		}
		c.Logger.Debug("Adding source", "url", source.URL)
		c.research.AddSource(source)
		return nil
	}

	var text string
	if carriesText(d.Type) {
		var err error
		if text, err = d.Text(); err != nil {
			return err
		}
	}
	if c.blocks != nil {
		c.blocks.UpdateBlock(func(prev Block) Block {
			return NextBlock(prev, d.Type, text)
		})
	}
	return nil
}

func (c *Consumer) decode(d Delta, v any) error {
	if err := json.Unmarshal(d.Content, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", d.Type, err)
	}
	if err := c.validate.Struct(v); err != nil {
		return fmt.Errorf("invalid %s: %w", d.Type, err)
	}
	return nil
}

func (p activityPayload) progress() *research.Progress {
	if p.CompletedSteps == nil || p.TotalSteps == nil {
		return nil
	}
	return &research.Progress{CompletedSteps: *p.CompletedSteps, TotalSteps: *p.TotalSteps}
}

// metricKind keeps label cardinality bounded for unknown tags
func metricKind(k DeltaKind) string {
	if k.Known() {
		return string(k)
	}
	return "unknown"
}

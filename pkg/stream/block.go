package stream

import "sync"

// BlockStatus tells whether the document block is still being written
type BlockStatus string

const (
	BlockStreaming BlockStatus = "streaming"
	BlockIdle      BlockStatus = "idle"
)

// Reveal bands: the block becomes visible the first time the content length
// seen before a delta falls strictly inside the band.
const (
	textRevealMin = 400
	textRevealMax = 450
	codeRevealMin = 300
	codeRevealMax = 310
)

// Block is the document the assistant writes alongside the chat
type Block struct {
	DocumentID string      `json:"documentId"`
	Content    string      `json:"content"`
	Kind       string      `json:"kind"`
	Title      string      `json:"title"`
	Status     BlockStatus `json:"status"`
	Visible    bool        `json:"isVisible"`
}

func InitialBlock() Block {
	return Block{
		DocumentID: "init",
		Kind:       "text",
		Status:     BlockIdle,
	}
}

// NextBlock is the pure block transition for one delta. text is the decoded
// string content, ignored by kinds that carry none. Kinds that do not concern
// the block return prev unchanged.
func NextBlock(prev Block, kind DeltaKind, text string) Block {
	next := prev

	switch kind {
	case ID:
		next.DocumentID = text
	case Title:
		next.Title = text
	case KindDelta:
		next.Kind = text
	case TextDelta:
		next.Content = prev.Content + text
		if inBand(prev, textRevealMin, textRevealMax) {
			next.Visible = true
		}
	case CodeDelta:
		next.Content = text
		if inBand(prev, codeRevealMin, codeRevealMax) {
			next.Visible = true
		}
	case SpreadsheetDelta:
		next.Content = text
		next.Visible = true
	case ClearDelta:
		next.Content = ""
	case Finish:
		next.Status = BlockIdle
		return next
	default:
		return prev
	}

	next.Status = BlockStreaming
	return next
}

func inBand(b Block, min, max int) bool {
	n := len(b.Content)
	return b.Status == BlockStreaming && n > min && n < max
}

// carriesText reports whether the block transition for kind reads a string payload
func carriesText(kind DeltaKind) bool {
	switch kind {
	case ID, Title, KindDelta, TextDelta, CodeDelta, SpreadsheetDelta:
		return true
	}
	return false
}

// BlockState is an in-memory BlockUpdater
type BlockState struct {
	mu    sync.Mutex
	block Block
}

func NewBlockState(initial Block) *BlockState {
	return &BlockState{block: initial}
}

func (s *BlockState) UpdateBlock(fn func(prev Block) Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = fn(s.block)
}

func (s *BlockState) Block() Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block
}

// MessageIDHolder keeps the id the server assigned to the latest user message
type MessageIDHolder struct {
	mu sync.Mutex
	id string
}

func (h *MessageIDHolder) SetUserMessageID(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.id = id
}

func (h *MessageIDHolder) UserMessageID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id
}

package models

// StreamChunkType tags a streamed routing chunk.
type StreamChunkType string

const (
	ChunkDelta    StreamChunkType = "chunk"
	ChunkComplete StreamChunkType = "complete"
	ChunkError    StreamChunkType = "error"
)

// StreamChunk is one element of a streamed routing response. Exactly one
// of Delta/DeltaThinking (type "chunk"), the terminal routing payload
// (type "complete"), or Error (type "error") is meaningful per chunk.
type StreamChunk struct {
	Type          StreamChunkType `json:"type"`
	Delta         string          `json:"delta,omitempty"`
	DeltaThinking string          `json:"delta_thinking,omitempty"`
	Done          bool            `json:"done,omitempty"`
	Routing       any             `json:"routing,omitempty"`
	Error         string          `json:"error,omitempty"`
}

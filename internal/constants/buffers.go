package constants

// Stream read buffers.
const (
	// StreamReadChunkSize is the per-Read buffer handed to the response
	// body; SSE events larger than one chunk are reassembled by the parser.
	StreamReadChunkSize = 64 * 1024

	// SSEMaxBufferedEvent caps the parser's pending-event buffer; a single
	// event larger than this is dropped with a warning rather than growing
	// without bound.
	SSEMaxBufferedEvent = 4 * 1024 * 1024
)

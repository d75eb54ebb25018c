package queue

const (
	TypeIngestSource = "ingest:source"
)

// IngestSourcePayload asks a worker to (re)ingest one source document.
// Zero chunk values and an empty strategy select the worker's configured
// defaults.
type IngestSourcePayload struct {
	SourceID     string `json:"sourceId"`
	ChunkSize    int    `json:"chunkSize,omitempty"`
	ChunkOverlap int    `json:"chunkOverlap,omitempty"`
	Strategy     string `json:"strategy,omitempty"`
}

package domain

import "time"

// Document is one earnings-call transcript as held by the document store.
// (Company, Quarter, FiscalYear) is unique.
type Document struct {
	ID             int64
	Company        string
	Quarter        string
	FiscalYear     string
	RawText        string
	WordCount      int
	SourceURL      string
	TranscriptDate string
	CreatedAt      time.Time
}

// NewDocument is the insert payload for a transcript.
type NewDocument struct {
	Company        string
	Quarter        string
	FiscalYear     string
	Text           string
	SourceURL      string
	TranscriptDate string
}

// Chunk is a window of a document's text and its slot in the vector index.
type Chunk struct {
	DocumentID     int64
	ChunkIndex     int
	Text           string
	VectorPosition int
}

// ChunkMeta is the per-position metadata record stored alongside each vector.
type ChunkMeta struct {
	DocumentID int64  `json:"transcript_id"`
	Company    string `json:"company"`
	Quarter    string `json:"quarter"`
	FiscalYear string `json:"fiscal_year"`
}

// Source identifies the transcript a retrieved chunk came from.
type Source struct {
	Company    string `json:"company"`
	Quarter    string `json:"quarter"`
	FiscalYear string `json:"fiscal_year"`
}

// SourceOf returns the source descriptor for a chunk.
func SourceOf(m ChunkMeta) Source {
	return Source{Company: m.Company, Quarter: m.Quarter, FiscalYear: m.FiscalYear}
}

// IndexTriple is the persisted searchable corpus. Position i in all three
// slices describes the same chunk.
type IndexTriple struct {
	Vectors [][]float32
	Texts   []string
	Metas   []ChunkMeta
	// Processed holds every document that has been chunked into the index,
	// including documents that produced zero chunks, mapped to their chunk count.
	Processed map[int64]int
	// Fingerprint identifies the embedding and chunking settings the vectors
	// were built with. Empty for an index that was never built.
	Fingerprint string
}

// Len returns the number of vectors; callers must validate the triple first.
func (t IndexTriple) Len() int {
	return len(t.Vectors)
}

// IndexBatch is an append to the index triple produced by one refresh.
type IndexBatch struct {
	Start     int
	Vectors   [][]float32
	Texts     []string
	Metas     []ChunkMeta
	Documents map[int64]int
	// Fingerprint, when set, is recorded with the batch.
	Fingerprint string
}

// Embedding is the result of one embedding call.
type Embedding struct {
	Vector []float32
	Tokens int
}

// Completion is the result of one completion call.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// QueryRequest is a question, optionally scoped to one company.
type QueryRequest struct {
	Question string `json:"question"`
	Company  string `json:"company_filter,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
}

// QueryResult is the answer to a QueryRequest.
type QueryResult struct {
	Answer   string        `json:"answer"`
	Sources  []Source      `json:"sources"`
	Cost     float64       `json:"cost"`
	Metadata QueryMetadata `json:"metadata"`
}

// QueryMetadata describes how an answer was produced.
type QueryMetadata struct {
	ChunksUsed         int    `json:"chunks_used"`
	TotalContextLength int    `json:"total_context_length"`
	Model              string `json:"model"`
}

// CompanyStats is the per-company row of StoreStats.
type CompanyStats struct {
	Company         string `json:"company"`
	TranscriptCount int    `json:"transcript_count"`
	TotalWords      int    `json:"total_words"`
}

// StoreStats are aggregate counts read from the document store.
type StoreStats struct {
	TotalDocuments int            `json:"total_transcripts"`
	TotalChunks    int            `json:"total_chunks"`
	TotalCompanies int            `json:"total_companies"`
	TotalWords     int            `json:"total_words"`
	PerCompany     []CompanyStats `json:"by_company"`
}

// CostSummary composes the persisted embedding spend with this process's query spend.
type CostSummary struct {
	TotalEmbeddingCost float64 `json:"total_embedding_cost"`
	TotalQueryCost     float64 `json:"total_query_cost"`
	TotalCost          float64 `json:"total_cost"`
}

// SystemStats is the aggregate report returned by the stats use case.
type SystemStats struct {
	StoreStats
	CostSummary
	IndexVectors    int    `json:"faiss_vectors"`
	EmbeddingModel  string `json:"embedding_model"`
	GenerationModel string `json:"generation_model"`
}

// TranscriptInfo is a transcript listing entry without its text.
type TranscriptInfo struct {
	ID             int64     `json:"id"`
	Company        string    `json:"company"`
	Quarter        string    `json:"quarter"`
	FiscalYear     string    `json:"fiscal_year"`
	WordCount      int       `json:"word_count"`
	SourceURL      string    `json:"source_url,omitempty"`
	TranscriptDate string    `json:"transcript_date,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CompanyInfo lists a company and the quarters held for it.
type CompanyInfo struct {
	Name            string   `json:"name"`
	TranscriptCount int      `json:"transcript_count"`
	Quarters        []string `json:"quarters"`
}

// Well-known metadata keys.
const (
	MetaEmbeddingCost  = "last_embedding_cost"
	MetaEmbeddingDate  = "last_embedding_date"
	MetaEmbeddingModel = "embedding_model"
)

package database

// EmbeddingDim is the default face embedding length (EMBEDDING_DIM).
const EmbeddingDim = 512

// Recognition index tuning. The graph over-fetches by HNSWSearchMultiplier
// because several embeddings of one person can crowd the top k.
const (
	HNSWMaxNeighbors     = 16
	HNSWEfSearch         = 100
	HNSWSearchMultiplier = 3
)

// Page sizes for the admin attendance list, a user's own history and the
// audit log. per_page is never honoured above MaxPerPage.
const (
	AttendancePerPage        = 50
	AttendanceHistoryPerPage = 30
	LogsPerPage              = 50
	MaxPerPage               = 200
)

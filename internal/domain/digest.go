package domain

import (
	"time"

	"github.com/google/uuid"
)

// Digest is a periodic curated snapshot of top articles. The audio
// fields are written back later by an external pipeline; digest
// generation never touches them.
type Digest struct {
	ID                     uuid.UUID
	DigestDate             time.Time
	SummaryText            string
	TotalArticlesProcessed int
	AudioURL               string
	AudioDurationSeconds   float64
	AudioSizeBytes         int64
	CreatedAt              time.Time
}

// MaxDigestSummaryChars bounds the digest summary text; the downstream
// TTS pipeline rejects longer inputs.
const MaxDigestSummaryChars = 2000

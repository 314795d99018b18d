package dedup

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osintwatch/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedAlert(t *testing.T, db *database.DB, title, content, url string) int64 {
	t.Helper()
	sourceID, err := db.UpsertSource("feed", "https://feed.example.com", "rss", 0.7)
	require.NoError(t, err)
	keywordID, err := db.UpsertKeyword("threat", "protective_intel", 2.0)
	require.NoError(t, err)

	hash := ContentHash(title, content)
	id, err := db.InsertAlert(&database.Alert{
		SourceID:    sourceID,
		KeywordID:   keywordID,
		Title:       title,
		Content:     &content,
		URL:         url,
		MatchedTerm: "threat",
		Severity:    "low",
		ContentHash: &hash,
	})
	require.NoError(t, err)
	require.NotZero(t, id)
	return id
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "breaking threat actor leaks data",
		NormalizeText("  <b>Breaking</b>:   Threat actor\n leaks data "))
	assert.Equal(t, "", NormalizeText(""))
}

func TestNormalizeTextTruncates(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "abcdefghij"
	}
	assert.Len(t, NormalizeText(long), 200)
}

func TestContentHashStableUnderFormatting(t *testing.T) {
	a := ContentHash("Breaking: CEO doxxed", "<p>Full   home address posted</p>")
	b := ContentHash("breaking: ceo doxxed", "Full home address posted")
	assert.Equal(t, a, b)

	c := ContentHash("breaking: ceo doxxed", "different body entirely")
	assert.NotEqual(t, a, c)
}

func TestCheckHashFastPath(t *testing.T) {
	db := openTestDB(t)
	original := seedAlert(t, db, "CEO doxxed on forum", "Full home address posted", "https://a.example.com/1")

	hash, dupID, err := Check(db, "CEO doxxed on forum", "Full home address posted")
	require.NoError(t, err)
	assert.Equal(t, original, dupID)
	assert.Equal(t, ContentHash("CEO doxxed on forum", "Full home address posted"), hash)
}

func TestCheckFuzzyTitleSlowPath(t *testing.T) {
	db := openTestDB(t)
	original := seedAlert(t, db, "Threat actor leaks executive itinerary", "body one", "https://a.example.com/1")

	// Slightly rephrased title, different content: hash misses, fuzzy hits.
	_, dupID, err := Check(db, "Threat actor leaks executive itinerary!", "completely different body")
	require.NoError(t, err)
	assert.Equal(t, original, dupID)
}

func TestCheckUniqueAlert(t *testing.T) {
	db := openTestDB(t)
	seedAlert(t, db, "Protest planned downtown", "march route posted", "https://a.example.com/1")

	_, dupID, err := Check(db, "Vendor breach disclosed", "build system accessed")
	require.NoError(t, err)
	assert.Zero(t, dupID)
}

func TestCheckIgnoresExistingDuplicates(t *testing.T) {
	db := openTestDB(t)
	original := seedAlert(t, db, "Same story", "same body", "https://a.example.com/1")
	copyID := seedAlert(t, db, "Same story", "same body", "https://a.example.com/2")
	require.NoError(t, db.MarkDuplicate(copyID, original))

	_, dupID, err := Check(db, "Same story", "same body")
	require.NoError(t, err)
	assert.Equal(t, original, dupID)
}

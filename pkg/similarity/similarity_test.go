package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrigram(t *testing.T) {
	assert.Equal(t, 1.0, Trigram("Jane Doe", "jane  doe"))
	assert.Equal(t, 0.0, Trigram("", "jane"))
	assert.Equal(t, 0.0, Trigram("abc", "xyz"))

	close := Trigram("Jonathan Smith", "Jonathon Smith")
	far := Trigram("Jonathan Smith", "Maria Garcia")
	assert.Greater(t, close, 0.5)
	assert.Less(t, far, 0.1)
}

func TestTrigram_PgTrgmPadding(t *testing.T) {
	// pg_trgm: similarity('word', 'words') = 4/7
	assert.InDelta(t, 4.0/7.0, Trigram("word", "words"), 1e-9)
}

func TestJaroWinkler(t *testing.T) {
	assert.Equal(t, 1.0, JaroWinkler("MARTHA", "martha"))
	assert.InDelta(t, 0.961, JaroWinkler("MARTHA", "MARHTA"), 0.001)
	assert.Equal(t, 0.0, JaroWinkler("", ""))
}

func TestLevenshtein(t *testing.T) {
	assert.InDelta(t, 1.0-3.0/7.0, Levenshtein("kitten", "sitting"), 1e-9)
	assert.Equal(t, 1.0, Levenshtein("Oak", "oak"))
	assert.Equal(t, 0.0, Levenshtein("", ""))
}

func TestExactFold(t *testing.T) {
	assert.True(t, ExactFold(" Jane Doe", "JANE DOE "))
	assert.False(t, ExactFold("", ""))
	assert.False(t, ExactFold("Jane", "Janet"))
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", AlgorithmTrigram, AlgorithmJaroWinkler, AlgorithmLevenshtein, "TRIGRAM"} {
		fn, err := ByName(name)
		require.NoError(t, err, name)
		assert.Equal(t, 1.0, fn("same", "same"))
	}

	_, err := ByName("soundex")
	assert.Error(t, err)
}

package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeSplitsOnWhitespace(t *testing.T) {
	tokens, err := Tokenize("ruff check .")
	require.NoError(t, err)
	assert.Equal(t, []string{"ruff", "check", "."}, tokens)
}

func TestTokenizeCollapsesRepeatedWhitespace(t *testing.T) {
	tokens, err := Tokenize("ruff   check\t\t.")
	require.NoError(t, err)
	assert.Equal(t, []string{"ruff", "check", "."}, tokens)
}

func TestTokenizeSingleQuotesPreserveLiteralContent(t *testing.T) {
	tokens, err := Tokenize(`pytest -k 'test with spaces'`)
	require.NoError(t, err)
	assert.Equal(t, []string{"pytest", "-k", "test with spaces"}, tokens)
}

func TestTokenizeSingleQuotesDoNotInterpretEscapes(t *testing.T) {
	tokens, err := Tokenize(`pytest -k 'a\b'`)
	require.NoError(t, err)
	assert.Equal(t, []string{"pytest", "-k", `a\b`}, tokens)
}

func TestTokenizeDoubleQuotesInterpretSelectedEscapes(t *testing.T) {
	tokens, err := Tokenize(`pytest -k "say \"hi\""`)
	require.NoError(t, err)
	assert.Equal(t, []string{"pytest", "-k", `say "hi"`}, tokens)
}

func TestTokenizeBackslashOutsideQuotesEscapesNextRune(t *testing.T) {
	tokens, err := Tokenize(`pytest a\ b`)
	require.NoError(t, err)
	assert.Equal(t, []string{"pytest", "a b"}, tokens)
}

func TestTokenizePreservesShellMetacharactersLiterally(t *testing.T) {
	tokens, err := Tokenize("ruff check . ; rm -rf /")
	require.NoError(t, err)
	assert.Equal(t, []string{"ruff", "check", ".", ";", "rm", "-rf", "/"}, tokens)
}

func TestTokenizeEmptyStringIsError(t *testing.T) {
	_, err := Tokenize("")
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestTokenizeWhitespaceOnlyIsError(t *testing.T) {
	_, err := Tokenize("   \t  ")
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestTokenizeAdjacentQuotedSegmentsJoinIntoOneToken(t *testing.T) {
	tokens, err := Tokenize(`pytest 'foo'"bar"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"pytest", "foobar"}, tokens)
}

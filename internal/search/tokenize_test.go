package search

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenizeLowercasesAndSplits(t *testing.T) {
	require.Equal(t, []string{"ok", "computer"}, Tokenize("OK Computer"))
}

func TestTokenizeSplitsOnPunctuation(t *testing.T) {
	require.Equal(t, []string{"radiohead", "airbag"}, Tokenize("Radiohead: Airbag!"))
}

func TestTokenizeDiscardsShortTokens(t *testing.T) {
	require.Equal(t, []string{"of", "dogs"}, Tokenize("a of dogs"))
}

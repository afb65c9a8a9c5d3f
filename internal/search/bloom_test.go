package search

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildFilterContainsInsertedTerms(t *testing.T) {
	corpus := [][3]string{
		{"Paranoid Android", "Radiohead", "OK Computer"},
		{"Karma Police", "Radiohead", "OK Computer"},
	}
	f := BuildFilter(corpus)

	require.True(t, f.ContainsAll([]string{"paranoid", "android"}))
	require.True(t, f.ContainsAll([]string{"radiohead"}))
	require.True(t, f.ContainsAll([]string{"karma", "police"}))
}

func TestFilterRoundTripsThroughWireEncoding(t *testing.T) {
	f := BuildFilter([][3]string{{"Bends", "Radiohead", ""}})
	bits, err := f.MarshalBinary()
	require.NoError(t, err)

	decoded, err := DecodeFilter(bits, f.HashCount())
	require.NoError(t, err)
	require.True(t, decoded.ContainsAll([]string{"bends", "radiohead"}))
}

func TestFilterUnlikelyToContainUnrelatedTerms(t *testing.T) {
	f := BuildFilter([][3]string{{"Paranoid Android", "Radiohead", "OK Computer"}})
	require.False(t, f.ContainsAll([]string{"definitely", "absent", "termzzz"}))
}

package gazetteer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localmemory/memcore/internal/store"
)

func TestCompileAndLookup(t *testing.T) {
	entries := []Entry{
		{EntityID: 1, Name: "Ada Lovelace", Type: store.EntityPerson, Aliases: []string{"the Enchantress"}},
		{EntityID: 2, Name: "Grace Hopper", Type: store.EntityPerson},
		{EntityID: 3, Name: "Acme Robotics Inc", Type: store.EntityOrganization},
	}

	dict, err := Compile(entries)
	require.NoError(t, err)

	matches := dict.Lookup("Ada Lovelace")
	require.Len(t, matches, 1)
	require.Equal(t, int64(1), matches[0].EntityID)

	matches = dict.Lookup("Lovelace")
	require.Len(t, matches, 1)

	matches = dict.Lookup("the Enchantress")
	require.GreaterOrEqual(t, len(matches), 1)
}

func TestScanFindsMentionsInOriginalText(t *testing.T) {
	entries := []Entry{
		{EntityID: 1, Name: "Grace Hopper", Type: store.EntityPerson},
		{EntityID: 2, Name: "Yale University", Type: store.EntityOrganization},
	}
	dict, err := Compile(entries)
	require.NoError(t, err)

	text := "Grace Hopper studied at Yale University."
	matches := dict.Scan(text)
	require.GreaterOrEqual(t, len(matches), 2)

	foundHopper := false
	for _, m := range matches {
		if m.MatchedText == "Grace Hopper" {
			foundHopper = true
		}
	}
	require.True(t, foundHopper)
}

func TestAutoAliasesForOrganization(t *testing.T) {
	aliases := autoAliases("Acme Robotics Inc", store.EntityOrganization)
	require.Contains(t, aliases, "ari")
}

func TestIsKnownEntity(t *testing.T) {
	dict, err := Compile([]Entry{{EntityID: 1, Name: "Gandalf", Type: store.EntityPerson}})
	require.NoError(t, err)

	require.True(t, dict.IsKnownEntity("Gandalf"))
	require.False(t, dict.IsKnownEntity("Saruman"))
}

func TestCanonicalizePreservesJoiners(t *testing.T) {
	require.Equal(t, "jean-luc picard", Canonicalize("Jean-Luc Picard"))
	require.Equal(t, "monkey d. luffy", Canonicalize("Monkey D. Luffy"))
}

package extractor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localmemory/memcore/internal/store"
)

func TestExtractCandidatesPromotesAtThreshold(t *testing.T) {
	e := New(2)

	first := e.ExtractCandidates("Dana Lee joined the call.", nil)
	require.Empty(t, first)

	second := e.ExtractCandidates("Dana Lee asked a question.", nil)
	require.Len(t, second, 1)
	require.Equal(t, "Dana Lee", second[0].Name)
	require.Equal(t, store.EntityPerson, second[0].Type)
	require.Equal(t, 2, second[0].Count)
}

func TestExtractCandidatesPromotesOnlyOnceThenSuppresses(t *testing.T) {
	e := New(1)

	first := e.ExtractCandidates("Acme Corp signed the deal.", nil)
	require.Len(t, first, 1)

	second := e.ExtractCandidates("Acme Corp signed another deal.", nil)
	require.Empty(t, second, "already-promoted phrases should not be returned again")
}

func TestExtractCandidatesSkipsKnownEntities(t *testing.T) {
	e := New(1)

	known := func(name string) bool { return name == "Dana Lee" }
	got := e.ExtractCandidates("Dana Lee met with Sam Rivera.", known)

	names := make([]string, 0, len(got))
	for _, c := range got {
		names = append(names, c.Name)
	}
	require.NotContains(t, names, "Dana Lee")
	require.Contains(t, names, "Sam Rivera")
}

func TestExtractCandidatesDropsSingleWordStopwords(t *testing.T) {
	e := New(1)

	got := e.ExtractCandidates("The meeting ran long.", nil)
	for _, c := range got {
		require.NotEqual(t, "The", c.Name)
	}
}

func TestExtractCandidatesInfersOrganizationBySuffix(t *testing.T) {
	e := New(1)

	got := e.ExtractCandidates("Acme Robotics Inc announced layoffs.", nil)
	require.NotEmpty(t, got)

	var found bool
	for _, c := range got {
		if c.Name == "Acme Robotics Inc" {
			found = true
			require.Equal(t, store.EntityOrganization, c.Type)
		}
	}
	require.True(t, found)
}

func TestExtractCandidatesInfersLocationByHint(t *testing.T) {
	e := New(1)

	got := e.ExtractCandidates("They moved the office to Baker Street.", nil)
	var found bool
	for _, c := range got {
		if c.Name == "Baker Street" {
			found = true
			require.Equal(t, store.EntityLocation, c.Type)
		}
	}
	require.True(t, found)
}

func TestExtractRegexIsStatelessPerCall(t *testing.T) {
	first := ExtractRegex("Jordan Blake filed the report.")
	require.Len(t, first, 1)
	require.Equal(t, "Jordan Blake", first[0].Name)

	second := ExtractRegex("Jordan Blake filed the report.")
	require.Len(t, second, 1, "regex fallback carries no state across calls")
}

func TestExtractRegexCountsRepeatsWithinOneText(t *testing.T) {
	got := ExtractRegex("Jordan Blake called and Jordan Blake called again.")
	require.Len(t, got, 1)
	require.Equal(t, 2, got[0].Count)
}

func TestAddStopWordExcludesCustomToken(t *testing.T) {
	e := New(1)
	e.AddStopWord("Quux")

	got := e.ExtractCandidates("Quux appeared in the log.", nil)
	for _, c := range got {
		require.NotEqual(t, "Quux", c.Name)
	}
}

package period

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	for _, raw := range []string{"week:1", "week:42", "lesson:Algebra 1", "lesson:ratio:proportion"} {
		k, err := Parse(raw)
		require.NoError(t, err, raw)
		require.Equal(t, raw, k.String())
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "week:0", "week:-3", "week:x", "lesson:", "lesson:   ", "unit:3"} {
		_, err := Parse(raw)
		require.ErrorIs(t, err, ErrInvalidKey, raw)
	}
}

func TestByNameNormalises(t *testing.T) {
	composed, err := ByName("Le\u00e7on")
	require.NoError(t, err)
	decomposed, err := ByName("  Lec\u0327on ")
	require.NoError(t, err)
	require.Equal(t, composed, decomposed)
	require.Equal(t, KindName, composed.Kind())
}

func TestFromPosition(t *testing.T) {
	k := FromPosition(0)
	require.Equal(t, KindNumber, k.Kind())
	require.Equal(t, 1, k.Number())
	require.Equal(t, "week:1", k.String())
}

func TestKeysAreComparable(t *testing.T) {
	seen := map[Key]int{}
	seen[MustParse("week:3")]++
	seen[FromPosition(2)]++
	require.Equal(t, 2, seen[MustParse("week:3")])
}

func TestLessOrdersWeeksBeforeLessons(t *testing.T) {
	keys := []Key{MustParse("lesson:b"), MustParse("week:10"), MustParse("lesson:a"), MustParse("week:2")}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	got := make([]string, 0, len(keys))
	for _, k := range keys {
		got = append(got, k.String())
	}
	require.Equal(t, []string{"week:2", "week:10", "lesson:a", "lesson:b"}, got)
}

func TestJSONUsesCanonicalText(t *testing.T) {
	type payload struct {
		Period Key `json:"period"`
	}
	raw, err := json.Marshal(payload{Period: MustParse("week:5")})
	require.NoError(t, err)
	require.JSONEq(t, `{"period":"week:5"}`, string(raw))

	var decoded payload
	require.NoError(t, json.Unmarshal([]byte(`{"period":"lesson:Geometry"}`), &decoded))
	require.Equal(t, "Geometry", decoded.Period.Name())
}

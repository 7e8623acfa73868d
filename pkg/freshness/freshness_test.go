package freshness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func stamp(ts int64, clientID string) Stamp {
	return Stamp{Timestamp: ts, ClientID: clientID}
}

func TestNewer_HigherTimestampWins(t *testing.T) {
	a := stamp(1001, "A")
	b := stamp(1000, "B")
	assert.True(t, Newer(a, b))
	assert.False(t, Newer(b, a))
}

func TestNewer_TieBreaksOnClientIDLexicographically(t *testing.T) {
	a := stamp(1000, "B")
	b := stamp(1000, "A")
	assert.True(t, Newer(a, b), "B beats A at the same timestamp")
	assert.False(t, Newer(b, a))
}

func TestNewer_EquivalentStampsAreNeitherNewer(t *testing.T) {
	a := stamp(1000, "A")
	b := stamp(1000, "A")
	assert.False(t, Newer(a, b))
	assert.False(t, Newer(b, a))
}

func TestCompare_Trichotomy(t *testing.T) {
	tests := []struct {
		name string
		a, b Stamp
		want int
	}{
		{"older timestamp", stamp(999, "A"), stamp(1000, "A"), -1},
		{"newer timestamp", stamp(1001, "A"), stamp(1000, "A"), 1},
		{"equal timestamp, lower clientId", stamp(1000, "A"), stamp(1000, "B"), -1},
		{"equal timestamp, higher clientId", stamp(1000, "B"), stamp(1000, "A"), 1},
		{"equal timestamp and clientId", stamp(1000, "A"), stamp(1000, "A"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
		})
	}
}

func TestCompare_IsAntisymmetric(t *testing.T) {
	pairs := [][2]Stamp{
		{stamp(1000, "A"), stamp(1000, "B")},
		{stamp(999, "Z"), stamp(1000, "A")},
		{stamp(1000, "A"), stamp(1000, "A")},
	}
	for _, p := range pairs {
		a, b := p[0], p[1]
		assert.Equal(t, -Compare(a, b), Compare(b, a), "Compare(%v, %v) must negate Compare(%v, %v)", a, b, b, a)
	}
}

func TestCompare_IsTransitive(t *testing.T) {
	a := stamp(1000, "A")
	b := stamp(1000, "B")
	c := stamp(1001, "A")

	assert.Equal(t, -1, Compare(a, b))
	assert.Equal(t, -1, Compare(b, c))
	assert.Equal(t, -1, Compare(a, c), "a < b and b < c must imply a < c")
}

// TestNewer_TotalOrder checks that Newer is a strict total order: for any
// two distinct stamps exactly one of newer(a,b), newer(b,a) holds, and for
// equivalent stamps neither does.
func TestNewer_TotalOrder(t *testing.T) {
	candidates := []Stamp{
		stamp(1000, "A"),
		stamp(1000, "B"),
		stamp(1000, "A"),
		stamp(999, "Z"),
		stamp(1001, "A"),
	}

	for _, a := range candidates {
		for _, b := range candidates {
			aNewer := Newer(a, b)
			bNewer := Newer(b, a)
			equivalent := a == b

			if equivalent {
				assert.False(t, aNewer, "equivalent stamps must not be newer than each other")
				assert.False(t, bNewer, "equivalent stamps must not be newer than each other")
				continue
			}
			assert.NotEqual(t, aNewer, bNewer, "exactly one of newer(a,b), newer(b,a) must hold for distinct stamps %v, %v", a, b)
		}
	}
}

func TestWinner_PicksNewerAndIsDeterministicOnTie(t *testing.T) {
	newer := stamp(1001, "A")
	older := stamp(1000, "Z")
	assert.Equal(t, newer, Winner(newer, older))
	assert.Equal(t, newer, Winner(older, newer))

	tied := stamp(1000, "A")
	sameTied := stamp(1000, "A")
	assert.Equal(t, tied, Winner(tied, sameTied), "a tie resolves to a, the first argument")
}

package refs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	ref := New(KindCustomer, 42)
	parsed, err := Parse(ref.String())
	require.NoError(t, err)
	require.Equal(t, ref, parsed)
	require.Equal(t, "customer:42", ref.String())
}

func TestParseRejectsUnknownKind(t *testing.T) {
	_, err := Parse("spaceship:1")
	require.ErrorIs(t, err, ErrInvalidRef)

	_, err = Parse("quote:abc")
	require.ErrorIs(t, err, ErrInvalidRef)

	_, err = Parse("quote:0")
	require.ErrorIs(t, err, ErrInvalidRef)
}

func TestIndexGroupsByTarget(t *testing.T) {
	idx := Index{}
	quote := New(KindQuote, 7)
	idx.Add(Attachment{ItemKind: "note", ItemID: 1, Target: quote})
	idx.Add(Attachment{ItemKind: "task", ItemID: 2, Target: quote})
	idx.Add(Attachment{ItemKind: "note", ItemID: 3, Target: New(KindOpportunity, 7)})

	require.Len(t, idx.For(quote), 2)
	require.Len(t, idx.For(New(KindOpportunity, 7)), 1)
	require.Empty(t, idx.For(New(KindCustomer, 7)))
}

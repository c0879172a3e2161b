package tokens

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticLookupDefaultsAndOverrides(t *testing.T) {
	l := NewStaticLookup(map[string]string{"Custom": "a custom message"})

	msg, ok := l.Lookup("TimedOut")
	require.True(t, ok)
	require.Equal(t, "The other task did not reply in time", msg)

	msg, ok = l.Lookup("Custom")
	require.True(t, ok)
	require.Equal(t, "a custom message", msg)

	_, ok = l.Lookup("NoSuchToken")
	require.False(t, ok)
}

func TestLastSentExpects(t *testing.T) {
	var ls LastSent
	require.False(t, ls.Expects("OfferData", 5))

	ls.Set("OfferData", 5)
	require.True(t, ls.Expects("OfferData", 5))
	require.False(t, ls.Expects("OfferData", 6))
	require.False(t, ls.Expects("ScrapAck", 5))

	ls.Clear()
	require.False(t, ls.Expects("OfferData", 5))
}

package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceRoundTrip(t *testing.T) {
	ref := NewReference(1001)

	orderID, err := ParseReference(ref)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), orderID)
}

func TestParseReferenceMalformed(t *testing.T) {
	cases := []string{
		"",
		"ORDER",
		"ORDER-abc-123-deadbeef",
		"ORDER-0-123-deadbeef",
		"ORDER--123-deadbeef",
		"PAYMENT-1001-123-deadbeef",
		"ORDER-1001",
	}

	for _, ref := range cases {
		_, err := ParseReference(ref)
		assert.Error(t, err, "reference %q should not parse", ref)
	}
}

func TestParseReferenceExtraSegments(t *testing.T) {
	// uuid fragments may themselves contain dashes; only the prefix and
	// order id segments matter
	orderID, err := ParseReference("ORDER-42-1700000000-ab-cd-ef")
	require.NoError(t, err)
	assert.Equal(t, int64(42), orderID)
}

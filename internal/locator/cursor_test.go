package locator

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestCursorRoundTrip(t *testing.T) {
	cases := []Cursor{
		{UpdatedAt: 1700000000, ID: strPtr("42")},
		{UpdatedAt: 0, ID: strPtr("acme")},
		SentinelCursor(1700000000),
		SentinelCursor(0),
	}
	for _, c := range cases {
		t.Run(c.String(), func(t *testing.T) {
			got, err := DecodeCursor(c.Encode())
			require.NoError(t, err)
			assert.True(t, c.Equal(got), "got %s", got)
			assert.Equal(t, c.IsSentinel(), got.IsSentinel())
		})
	}
}

func TestDecodeCursorLegacyForms(t *testing.T) {
	enc := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

	c, err := DecodeCursor(enc(`{"updated_at": 10, "org_id": 7}`))
	require.NoError(t, err)
	require.NotNil(t, c.ID)
	assert.Equal(t, "7", *c.ID)
	assert.EqualValues(t, 10, c.UpdatedAt)

	c, err = DecodeCursor(enc(`{"updated_at": 10}`))
	require.NoError(t, err)
	assert.True(t, c.IsSentinel())

	c, err = DecodeCursor(base64.URLEncoding.EncodeToString([]byte(`{"updated_at":1,"id":"a?b>"}`)))
	require.NoError(t, err)
	assert.Equal(t, "a?b>", *c.ID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{
		"%%%",
		base64.StdEncoding.EncodeToString([]byte(`[1,2]`)),
		base64.StdEncoding.EncodeToString([]byte(`{"id":"1"}`)),
		base64.StdEncoding.EncodeToString([]byte(`{"updated_at":1,"id":1.5}`)),
	} {
		_, err := DecodeCursor(token)
		assert.ErrorIs(t, err, ErrMalformedResponse, token)
	}
}

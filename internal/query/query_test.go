package query

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailbridge/mailbridge/internal/errs"
)

func TestParse_FreeText(t *testing.T) {
	q, err := Parse("quarterly report")

	require.NoError(t, err)
	assert.Equal(t, []string{"quarterly", "report"}, q.Text)
	assert.Empty(t, q.Subject)
	assert.Nil(t, q.IsRead)
}

func TestParse_Operators(t *testing.T) {
	q, err := Parse("subject:invoice from:billing@acme.com is:unread has:attachment")

	require.NoError(t, err)
	assert.Equal(t, "invoice", q.Subject)
	assert.Equal(t, "billing@acme.com", q.From)
	require.NotNil(t, q.IsRead)
	assert.False(t, *q.IsRead)
	assert.True(t, q.HasAttachment)
	assert.Empty(t, q.Text)
}

func TestParse_QuotedValue(t *testing.T) {
	q, err := Parse(`subject:"quarterly report" followup`)

	require.NoError(t, err)
	assert.Equal(t, "quarterly report", q.Subject)
	assert.Equal(t, []string{"followup"}, q.Text)
}

func TestParse_IsRead(t *testing.T) {
	q, err := Parse("is:read")

	require.NoError(t, err)
	require.NotNil(t, q.IsRead)
	assert.True(t, *q.IsRead)
}

func TestParse_UnknownOperator(t *testing.T) {
	_, err := Parse("label:urgent")

	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrUnsupportedQuery))
}

func TestParse_UnknownState(t *testing.T) {
	_, err := Parse("is:starred")

	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrUnsupportedQuery))
}

func TestParse_ColonInsideText(t *testing.T) {
	// A trailing colon is not an operator.
	q, err := Parse("re: meeting")

	require.NoError(t, err)
	assert.Equal(t, []string{"re:", "meeting"}, q.Text)
}

func TestParse_Empty(t *testing.T) {
	q, err := Parse("")

	require.NoError(t, err)
	assert.True(t, q.IsEmpty())
}

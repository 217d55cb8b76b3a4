package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"vehicle", KindVehicle, false},
		{" Event ", KindEvent, false},
		{"ARTICLE", KindArticle, false},
		{"", KindGeneral, false},
		{"boat", "", true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestQuery_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, NewQuery("1969 Camaro", KindVehicle).Validate())

	err := NewQuery("   ", KindVehicle).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query text is required")

	err = Query{Text: "x", Kind: "boat"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown query kind")

	err = Query{Text: "x", Kind: KindGeneral, MaxResults: 51}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max results")
}

func TestQuery_Limit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultMaxResults, NewQuery("x", KindGeneral).Limit())
	assert.Equal(t, 25, Query{Text: "x", Kind: KindGeneral, MaxResults: 25}.Limit())
}

func TestQuery_Filter(t *testing.T) {
	t.Parallel()

	q := Query{Text: "x", Kind: KindGeneral, Filters: map[string]any{
		"site": "hemmings.com",
		"year": 1969,
		"nil":  nil,
	}}
	assert.Equal(t, "hemmings.com", q.Filter("site"))
	assert.Equal(t, "1969", q.Filter("year"))
	assert.Equal(t, "", q.Filter("nil"))
	assert.Equal(t, "", q.Filter("missing"))
}

func TestRunResult_AttemptsFor(t *testing.T) {
	t.Parallel()

	r := RunResult{Attempts: []Attempt{
		{Provider: "brave", Number: 1},
		{Provider: "jina", Number: 1},
		{Provider: "brave", Number: 2},
	}}
	got := r.AttemptsFor("brave")
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[1].Number)
	assert.Empty(t, r.AttemptsFor("tavily"))
}

package backfill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memehubx/memedb/pkg/domain"
)

func TestLowercaseDeriver(t *testing.T) {
	d, err := NewDeriver("lowercase", "", "")
	require.NoError(t, err)
	assert.Equal(t, "title_lowercase", d.TargetField())

	tests := []struct {
		name  string
		rec   Record
		value interface{}
		skip  SkipReason
	}{
		{"ascii", Record{ID: "1", Fields: domain.Document{"title": "Funny CAT!!"}}, "funny cat!!", SkipNone},
		{"empty", Record{ID: "1a", Fields: domain.Document{"title": ""}}, "", SkipNone},
		{"unicode", Record{ID: "2", Fields: domain.Document{"title": "ÉCOLE Ça Va"}}, "école ça va", SkipNone},
		{"absent source", Record{ID: "3", Fields: domain.Document{}}, "", SkipNone},
		{"null source", Record{ID: "4", Fields: domain.Document{"title": nil}}, "", SkipNone},
		{"already current", Record{ID: "5", Fields: domain.Document{"title": "Dog", "title_lowercase": "dog"}}, "dog", SkipCurrent},
		{"stale value", Record{ID: "6", Fields: domain.Document{"title": "Dog", "title_lowercase": "cat"}}, "dog", SkipNone},
		{"non-text source", Record{ID: "7", Fields: domain.Document{"title": 42.0}}, nil, SkipIneligible},
		{"missing record", Record{ID: "8", Missing: true}, nil, SkipIneligible},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Derive(tt.rec)
			assert.Equal(t, tt.skip, got.Skip)
			assert.Equal(t, "title_lowercase", got.Field)
			if tt.skip != SkipIneligible {
				assert.Equal(t, tt.value, got.Value)
			}
		})
	}
}

func TestTagsDeriver(t *testing.T) {
	d, err := NewDeriver("tags", "caption", "")
	require.NoError(t, err)

	got := d.Derive(Record{ID: "1", Fields: domain.Document{"caption": "Funny  CAT Meme "}})
	assert.Equal(t, SkipNone, got.Skip)
	assert.Equal(t, []interface{}{"funny", "cat", "meme"}, got.Value)

	current := d.Derive(Record{ID: "2", Fields: domain.Document{
		"caption": "Funny Cat",
		"tags":    []interface{}{"funny", "cat"},
	}})
	assert.Equal(t, SkipCurrent, current.Skip)

	empty := d.Derive(Record{ID: "3", Fields: domain.Document{}})
	assert.Equal(t, SkipNone, empty.Skip)
	assert.Equal(t, []interface{}{}, empty.Value)

	mixed := d.Derive(Record{ID: "4", Fields: domain.Document{"caption": "a", "tags": []interface{}{1.0}}})
	assert.Equal(t, SkipNone, mixed.Skip)
}

func TestNewDeriver_Errors(t *testing.T) {
	_, err := NewDeriver("uppercase", "", "")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "lowercase, tags")

	_, err = NewDeriver("lowercase", "title", "title")
	assert.ErrorAs(t, err, &cfgErr)
}

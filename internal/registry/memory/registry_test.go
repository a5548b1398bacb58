package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/price-harvester/internal/crawler"
)

func TestCreateOrUpdateSourceIsStable(t *testing.T) {
	t.Parallel()

	r := New()
	ctx := context.Background()
	a, err := r.CreateOrUpdateSource(ctx, crawler.SourceMetadata{Name: "tapm", Country: "TW"})
	require.NoError(t, err)
	b, err := r.CreateOrUpdateSource(ctx, crawler.SourceMetadata{Name: "kamis"})
	require.NoError(t, err)
	again, err := r.CreateOrUpdateSource(ctx, crawler.SourceMetadata{Name: "tapm", Country: "TW", Currency: "TWD"})
	require.NoError(t, err)

	assert.Equal(t, crawler.Source{ID: "1", Name: "tapm"}, a)
	assert.Equal(t, "2", b.ID)
	assert.Equal(t, a, again)

	meta, ok := r.Metadata("tapm")
	require.True(t, ok)
	assert.Equal(t, "TWD", meta.Currency)

	_, err = r.CreateOrUpdateSource(ctx, crawler.SourceMetadata{})
	require.Error(t, err)
}

func TestCreateAlarm(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.CreateAlarm(context.Background(), crawler.Alarm{SourceID: "1", Message: "header changed"}))
	alarms := r.Alarms()
	require.Len(t, alarms, 1)
	assert.Equal(t, "header changed", alarms[0].Message)
}

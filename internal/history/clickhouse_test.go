package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aero_alerts/internal/store"
)

func TestTrackArchiveBuffersUntilFlush(t *testing.T) {
	a := &TrackArchive{}
	ctx := context.Background()

	flight := "ACA123"
	require.NoError(t, a.Append(ctx, &store.TrackRecord{Timestamp: 1000, Hex: "c06f5a", Flight: &flight}))
	require.NoError(t, a.Append(ctx, &store.TrackRecord{Timestamp: 1001, Hex: "c06f5a"}))

	assert.Len(t, a.buf, 2)
	assert.Equal(t, "c06f5a", a.buf[0].Hex)
	assert.Equal(t, "ACA123", *a.buf[0].Flight)
}

func TestTrackArchiveFlushEmptyIsNoop(t *testing.T) {
	// An empty buffer makes no round trip, so the nil conn is never touched.
	a := &TrackArchive{}
	require.NoError(t, a.Flush(context.Background()))
	require.NoError(t, a.Flush(context.Background()))
}

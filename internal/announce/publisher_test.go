package announce

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aero_alerts/internal/observability"
	"aero_alerts/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func strp(s string) *string   { return &s }
func intp(i int) *int         { return &i }
func f64p(f float64) *float64 { return &f }

func TestFormatPostComplete(t *testing.T) {
	p := &store.PendingPost{
		Flight:       strp("ACA123"),
		Registration: strp("C-FABC"),
		Model:        strp("A320-214"),
		Manufacturer: strp("Airbus"),
		OwnerName:    strp("Air Canada"),
		Altitude:     intp(37000),
		Speed:        f64p(834.5),
		Heading:      intp(270),
		Bearing:      intp(45),
		AirlineName:  strp("Air Canada"),
		OriginName:   strp("Ottawa"),
		DestName:     strp("Montreal"),
	}

	want := "Aircraft detected to the NE!\n" +
		"Air Canada flight #ACA123 from Ottawa to Montreal\n" +
		"Aircraft: Airbus A320-214\n" +
		"Tail # C-FABC\n" +
		"Speed: 834.5 km/h tracking W\n" +
		"Alt: 37000 ft\n"
	assert.Equal(t, want, FormatPost(p))
}

func TestFormatPostAllUnknown(t *testing.T) {
	want := "Aircraft detected from unknown direction!\n" +
		"Unknown owner flight #Unknown from unknown origin\n" +
		"Aircraft: unknown\n" +
		"Tail # Unknown\n" +
		"Speed: unknown\n" +
		"Alt: unknown\n"
	assert.Equal(t, want, FormatPost(&store.PendingPost{}))
}

func TestFormatPostPlaceholderAirline(t *testing.T) {
	p := &store.PendingPost{
		AirlineName: strp("Karat"),
		OwnerName:   strp("Private Owner Inc"),
	}
	assert.Contains(t, FormatPost(p), "Private Owner Inc flight #")

	// Placeholder airline with no registered owner still renders.
	p = &store.PendingPost{AirlineName: strp("Karat")}
	assert.Contains(t, FormatPost(p), "Unknown owner flight #")
}

func TestFormatPostTailFallsBackToFlight(t *testing.T) {
	p := &store.PendingPost{Flight: strp("GOOSE1")}
	assert.Contains(t, FormatPost(p), "Tail # GOOSE1\n")
}

type fakePoster struct {
	loginErr   error
	logins     int
	posts      []string
	failOnPost map[int]bool // index into the sequence of Post calls
}

func (f *fakePoster) Login(ctx context.Context, identifier, password string) error {
	f.logins++
	return f.loginErr
}

func (f *fakePoster) Post(ctx context.Context, text string) error {
	idx := len(f.posts)
	f.posts = append(f.posts, text)
	if f.failOnPost[idx] {
		return errors.New("post rejected")
	}
	return nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.CreateSchema(context.Background()))
	return s
}

func insertPending(t *testing.T, st store.Store, ts int64, hex string) int64 {
	t.Helper()
	pend := store.PostPending
	id, err := st.InsertFlight(context.Background(), &store.FlightRecord{
		Timestamp: ts, ICAOHex: hex, BskyPost: &pend,
	})
	require.NoError(t, err)
	return id
}

func TestPublishPendingMarksEachPost(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insertPending(t, st, 1000, "aaa111")
	insertPending(t, st, 1001, "bbb222")

	poster := &fakePoster{}
	pub := NewPublisher(st, poster, "acct", "pass", 30*time.Minute, testLogger(), observability.NewMetricsForTesting())

	pub.PublishPending(ctx, 1100)

	assert.Equal(t, 1, poster.logins)
	assert.Len(t, poster.posts, 2)

	remaining, err := st.PendingPosts(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	// Nothing left: a second run does not even log in.
	pub.PublishPending(ctx, 1100)
	assert.Equal(t, 1, poster.logins)
}

func TestPublishPendingContinuesPastFailure(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id1 := insertPending(t, st, 1000, "aaa111")
	insertPending(t, st, 1001, "bbb222")

	poster := &fakePoster{failOnPost: map[int]bool{0: true}}
	pub := NewPublisher(st, poster, "acct", "pass", 30*time.Minute, testLogger(), observability.NewMetricsForTesting())

	pub.PublishPending(ctx, 1100)
	assert.Len(t, poster.posts, 2)

	// The failed one is still pending, the other is marked.
	remaining, err := st.PendingPosts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, id1, remaining[0].FlightID)

	// Next cycle retries only the failed record.
	pub.PublishPending(ctx, 1200)
	assert.Len(t, poster.posts, 3)
	remaining, err = st.PendingPosts(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestPublishPendingLoginFailureSkipsBatch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insertPending(t, st, 1000, "aaa111")

	poster := &fakePoster{loginErr: errors.New("bad credentials")}
	pub := NewPublisher(st, poster, "acct", "wrong", 30*time.Minute, testLogger(), observability.NewMetricsForTesting())

	pub.PublishPending(ctx, 1100)

	assert.Empty(t, poster.posts)
	remaining, err := st.PendingPosts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestPublishPendingRespectsLagWindow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	// 30 minute lag, now=10000: cutoff is 8200.
	insertPending(t, st, 8199, "old111")
	insertPending(t, st, 8200, "new222")

	poster := &fakePoster{}
	pub := NewPublisher(st, poster, "acct", "pass", 30*time.Minute, testLogger(), observability.NewMetricsForTesting())

	pub.PublishPending(ctx, 10000)
	assert.Len(t, poster.posts, 1)
}

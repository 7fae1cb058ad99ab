package announce

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"aero_alerts/internal/geo"
	"aero_alerts/internal/observability"
	"aero_alerts/internal/store"
)

// Poster is the outbound surface the publisher needs.
type Poster interface {
	Login(ctx context.Context, identifier, password string) error
	Post(ctx context.Context, text string) error
}

// Publisher drains pending sightings into posts. One login per batch; a
// failed login skips the whole batch and leaves everything pending. Each
// record is published then marked individually so a single failure never
// blocks the rest, and a crash between publish and mark costs at most one
// duplicate post, never a missed one.
type Publisher struct {
	store   store.Store
	poster  Poster
	account string
	appPass string
	postLag time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPublisher builds a publisher.
func NewPublisher(st store.Store, poster Poster, account, appPass string, postLag time.Duration,
	logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		store:   st,
		poster:  poster,
		account: account,
		appPass: appPass,
		postLag: postLag,
		logger:  logger,
		metrics: metrics,
	}
}

// PublishPending posts every flagged sighting still inside the lag window.
func (p *Publisher) PublishPending(ctx context.Context, now int64) {
	oldest := now - int64(p.postLag.Seconds())
	pending, err := p.store.PendingPosts(ctx, oldest)
	if err != nil {
		p.metrics.StoreErrors.Inc()
		p.logger.Warn("pending post lookup failed", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	p.logger.Info("postable sightings found", "count", len(pending))

	if err := p.poster.Login(ctx, p.account, p.appPass); err != nil {
		p.metrics.PostErrors.Inc()
		p.logger.Warn("login failed, batch left pending", "error", err)
		return
	}

	for i := range pending {
		text := FormatPost(&pending[i])
		p.logger.Info("publishing announcement", "flight_id", pending[i].FlightID, "text", text)

		if err := p.poster.Post(ctx, text); err != nil {
			p.metrics.PostErrors.Inc()
			p.logger.Warn("publish failed", "flight_id", pending[i].FlightID, "error", err)
			continue
		}
		if err := p.store.MarkPosted(ctx, pending[i].FlightID); err != nil {
			p.metrics.StoreErrors.Inc()
			p.logger.Warn("marking posted failed", "flight_id", pending[i].FlightID, "error", err)
			continue
		}
		p.metrics.PostsPublished.Inc()
	}
}

// FormatPost renders the announcement text for one pending sighting. Every
// field degrades to an explicit unknown; the post always renders.
func FormatPost(p *store.PendingPost) string {
	var b strings.Builder

	if p.Bearing == nil {
		b.WriteString("Aircraft detected from unknown direction!\n")
	} else {
		b.WriteString("Aircraft detected to the " + geo.CompassPoint(float64(*p.Bearing)) + "!\n")
	}

	// Registry placeholder operators hide behind the name "Karat"; prefer
	// the registered owner in that case.
	owner := "Unknown owner"
	switch {
	case p.AirlineName != nil && *p.AirlineName != "Karat":
		owner = *p.AirlineName
	case p.OwnerName != nil:
		owner = *p.OwnerName
	}

	flight := "Unknown"
	if p.Flight != nil && *p.Flight != "" {
		flight = *p.Flight
	}

	origin := "unknown origin"
	if p.OriginName != nil {
		origin = *p.OriginName
	}
	dest := ""
	if p.DestName != nil {
		dest = " to " + *p.DestName
	}
	b.WriteString(owner + " flight #" + flight + " from " + origin + dest + "\n")

	model := "unknown"
	if p.Model != nil {
		if p.Manufacturer != nil {
			model = *p.Manufacturer + " " + *p.Model
		} else {
			model = *p.Model
		}
	}
	b.WriteString("Aircraft: " + model + "\n")

	tail := flight
	if p.Registration != nil {
		tail = *p.Registration
	}
	b.WriteString("Tail # " + tail + "\n")

	speed := "unknown"
	if p.Speed != nil {
		speed = strconv.FormatFloat(*p.Speed, 'f', -1, 64) + " km/h"
		if p.Heading != nil {
			speed += " tracking " + geo.CompassPoint(float64(*p.Heading))
		}
	}
	b.WriteString("Speed: " + speed + "\n")

	alt := "unknown"
	if p.Altitude != nil {
		alt = strconv.Itoa(*p.Altitude) + " ft"
	}
	b.WriteString("Alt: " + alt + "\n")

	return b.String()
}

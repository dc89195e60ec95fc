package service

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/dronexam-api/internal/models"
)

// BoardRelayChannel is the Redis channel lane notices are relayed on.
const BoardRelayChannel = "dronexam:board"

// BoardNotice tells board subscribers that a venue day changed.
type BoardNotice struct {
	VenueID int64            `json:"venue_id"`
	Date    string           `json:"date"`
	Type    models.EventType `json:"type"`
	Origin  string           `json:"origin"`
}

// BoardRelay carries notices between API instances.
type BoardRelay interface {
	Publish(ctx context.Context, channel string, value interface{}) error
	Subscribe(ctx context.Context, channel string) <-chan []byte
}

// BoardSubscription receives notices for one venue.
type BoardSubscription struct {
	VenueID int64
	C       <-chan BoardNotice
	ch      chan BoardNotice
}

// BoardHub fans lane changes out to live board streams.
type BoardHub struct {
	mu     sync.Mutex
	subs   map[int64]map[*BoardSubscription]struct{}
	relay  BoardRelay
	origin string
	logger *zap.Logger
}

// NewBoardHub constructs a hub. relay may be nil for single-instance deployments.
func NewBoardHub(relay BoardRelay, logger *zap.Logger) *BoardHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BoardHub{
		subs:   make(map[int64]map[*BoardSubscription]struct{}),
		relay:  relay,
		origin: uuid.NewString(),
		logger: logger,
	}
}

// Subscribe registers interest in a venue. Notices are coalesced: a slow
// reader sees at least one notice after any burst of changes.
func (h *BoardHub) Subscribe(venueID int64) *BoardSubscription {
	ch := make(chan BoardNotice, 1)
	sub := &BoardSubscription{VenueID: venueID, C: ch, ch: ch}
	h.mu.Lock()
	if h.subs[venueID] == nil {
		h.subs[venueID] = make(map[*BoardSubscription]struct{})
	}
	h.subs[venueID][sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (h *BoardHub) Unsubscribe(sub *BoardSubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[sub.VenueID]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.VenueID)
	}
	close(sub.ch)
}

// Subscribers returns the number of open streams for a venue.
func (h *BoardHub) Subscribers(venueID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[venueID])
}

// HandleEvent notifies local streams of lane changes and relays them to
// other instances.
func (h *BoardHub) HandleEvent(ctx context.Context, event models.Event) error {
	if event.Lane == nil {
		return nil
	}
	notice := BoardNotice{
		VenueID: event.Lane.VenueID,
		Date:    models.FormatDate(event.Lane.ExamDate),
		Type:    event.Type,
		Origin:  h.origin,
	}
	h.notify(notice)
	if h.relay == nil {
		return nil
	}
	return h.relay.Publish(ctx, BoardRelayChannel, notice)
}

// Run consumes relayed notices until ctx is done.
func (h *BoardHub) Run(ctx context.Context) {
	if h.relay == nil {
		return
	}
	for raw := range h.relay.Subscribe(ctx, BoardRelayChannel) {
		var notice BoardNotice
		if err := json.Unmarshal(raw, &notice); err != nil {
			h.logger.Warn("discarding malformed board notice", zap.Error(err))
			continue
		}
		if notice.Origin == h.origin {
			continue
		}
		h.notify(notice)
	}
}

func (h *BoardHub) notify(notice BoardNotice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[notice.VenueID] {
		select {
		case sub.ch <- notice:
		default:
		}
	}
}

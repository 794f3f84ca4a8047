package notify

import (
	"context"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"github.com/neshama/shivanotify/internal/calendar"
	"github.com/neshama/shivanotify/internal/database/testutil"
	"github.com/neshama/shivanotify/internal/models"
	"github.com/neshama/shivanotify/internal/shiva"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type sentMessage struct {
	Message
	At time.Time
}

// recordingSender captures messages and fails them on demand.
type recordingSender struct {
	mu    sync.Mutex
	clock *fakeClock
	sent  []sentMessage
	fail  func(Message) error
	// hold runs before the send without the lock, so it may block.
	hold func(context.Context, Message)
}

func (s *recordingSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	s.mu.Lock()
	hold := s.hold
	s.mu.Unlock()
	if hold != nil {
		hold(ctx, msg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Receipt{}, &TransientDeliveryError{Err: err}
	}
	if s.fail != nil {
		if err := s.fail(msg); err != nil {
			return Receipt{}, err
		}
	}
	s.sent = append(s.sent, sentMessage{Message: msg, At: s.clock.Now()})
	return Receipt{MessageID: "msg-" + msg.RecordID}, nil
}

func (s *recordingSender) setFail(fn func(Message) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

func (s *recordingSender) setHold(fn func(context.Context, Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = fn
}

// holdFirst blocks the first send of kind until release is closed or the
// send context ends. entered is closed once that send is blocked.
func (s *recordingSender) holdFirst(kind Kind) (entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	s.setHold(func(ctx context.Context, msg Message) {
		if msg.Kind != kind {
			return
		}
		first := false
		once.Do(func() { first = true })
		if !first {
			return
		}
		close(entered)
		select {
		case <-release:
		case <-ctx.Done():
		}
	})
	return entered, release
}

func (s *recordingSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

func (s *recordingSender) ofKind(kind Kind) []sentMessage {
	var out []sentMessage
	for _, m := range s.messages() {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type harness struct {
	t         *testing.T
	loc       *time.Location
	clock     *fakeClock
	repo      *shiva.Repository
	events    *EventLog
	sender    *recordingSender
	scheduler *Scheduler
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	repo, err := shiva.NewRepository(db)
	require.NoError(t, err)
	events, err := NewEventLog(db)
	require.NoError(t, err)
	composer, err := NewComposer(repo, "https://example.org/")
	require.NoError(t, err)

	clock := &fakeClock{}
	sender := &recordingSender{clock: clock}
	cfg := DispatchConfig{Workers: 2, Quiet: calendar.ShabbatWindow(loc)}

	all := append([]Option{WithNow(clock.Now), WithLocation(loc)}, opts...)
	scheduler, err := NewScheduler(events, repo, sender, composer, cfg, all...)
	require.NoError(t, err)

	return &harness{
		t:         t,
		loc:       loc,
		clock:     clock,
		repo:      repo,
		events:    events,
		sender:    sender,
		scheduler: scheduler,
	}
}

// at sets the clock to hour:minute local time on date.
func (h *harness) at(date string, hour, minute int) time.Time {
	h.t.Helper()
	now, err := calendar.At(date, hour, minute, h.loc)
	require.NoError(h.t, err)
	h.clock.Set(now)
	return now
}

func (h *harness) tick() TickReport {
	h.t.Helper()
	report, err := h.scheduler.RunOnce(context.Background())
	require.NoError(h.t, err)
	return report
}

func (h *harness) page(start, end string) *models.CoordinationPage {
	h.t.Helper()
	page, err := h.repo.CreatePage(context.Background(), shiva.PageInput{
		FamilyName:     "Cohen",
		OrganizerName:  "Dana",
		OrganizerEmail: "dana@example.com",
		ShivaAddress:   "12 Elm St",
		ShivaCity:      "Toronto",
		StartDate:      start,
		EndDate:        end,
	})
	require.NoError(h.t, err)
	return page
}

func (h *harness) signup(pageID, name, date, mealType string) models.Signup {
	h.t.Helper()
	signups, err := h.repo.AddSignups(context.Background(), pageID, []shiva.SignupInput{{
		VolunteerName:  name,
		VolunteerEmail: name + "@example.com",
		MealDate:       date,
		MealType:       mealType,
	}})
	require.NoError(h.t, err)
	return signups[0]
}

func (h *harness) records(pageID string, kind Kind) []models.NotificationRecord {
	h.t.Helper()
	rows, err := h.events.ListByPage(context.Background(), pageID)
	require.NoError(h.t, err)
	var out []models.NotificationRecord
	for _, row := range rows {
		if Kind(row.Kind) == kind {
			out = append(out, row)
		}
	}
	return out
}

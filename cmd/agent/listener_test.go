package main

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"slotwatch/internal/behavior"
	"slotwatch/internal/booking"
	"slotwatch/internal/detector"
	"slotwatch/internal/models"
	"slotwatch/internal/mq"
	"slotwatch/internal/page"
)

// countingSession trips a flag if two workflows ever drive it at once.
type countingSession struct {
	busy    atomic.Int32
	overlap atomic.Bool
}

func (s *countingSession) enter() func() {
	if s.busy.Add(1) > 1 {
		s.overlap.Store(true)
	}
	time.Sleep(time.Millisecond)
	return func() { s.busy.Add(-1) }
}

func (s *countingSession) Current(context.Context) (*page.Snapshot, error) {
	defer s.enter()()
	return page.NewSnapshot("https://example.test/", "<html></html>")
}

func (s *countingSession) Navigate(context.Context, string) error {
	defer s.enter()()
	return models.ErrNavigationTimeout
}

func (s *countingSession) Click(context.Context, string) error {
	defer s.enter()()
	return models.ErrElementNotFound
}

func (s *countingSession) SendKeys(context.Context, string, string) error {
	defer s.enter()()
	return nil
}

func (s *countingSession) Commit(context.Context, string) error {
	defer s.enter()()
	return nil
}

func (s *countingSession) SelectOption(context.Context, string, string) error {
	defer s.enter()()
	return nil
}

func (s *countingSession) WaitVisible(context.Context, string, time.Duration) error {
	defer s.enter()()
	return models.ErrElementNotFound
}

func (s *countingSession) ScrollTo(context.Context, string) error {
	defer s.enter()()
	return nil
}

func (s *countingSession) Hover(context.Context, string) error {
	defer s.enter()()
	return nil
}

func (s *countingSession) Highlight(context.Context, string) error {
	defer s.enter()()
	return nil
}

func TestChecksAndBookingsAreSerialized(t *testing.T) {
	sess := &countingSession{}
	l := &listener{
		detector: detector.New(sess, behavior.Instant{}),
		engine:   booking.New(sess, behavior.Instant{}),
		policy:   behavior.Instant{},
	}

	ctx := context.Background()
	checkReq := mq.CheckRequest{Monitors: []models.Monitor{{ID: "m1", Status: models.StatusActive}}}
	bookReq := mq.BookRequest{
		Slot:    models.Slot{Time: "08:15", Centre: "Manchester"},
		Monitor: models.Monitor{ID: "m1", Name: "Sarah"},
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			reply := l.runCheck(ctx, checkReq)
			assert.True(t, reply.Success)
		}()
		go func() {
			defer wg.Done()
			reply := l.runBook(ctx, bookReq)
			assert.False(t, reply.Success, "workflow cannot complete on a dead page")
			assert.NotEmpty(t, reply.Error)
		}()
	}
	wg.Wait()

	assert.False(t, sess.overlap.Load(), "a check and a booking drove the session concurrently")
}

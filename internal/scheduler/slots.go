package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"armada/internal/logger"
)

// SlotScheduler fires a task at named wall-clock slots ("london_open 08:00")
// once per day, in the broker's timezone. It complements the interval sweep
// for strategies that only care about specific session moments.
type SlotScheduler struct {
	Name     string
	Slots    []Slot
	Location *time.Location

	ctx   context.Context
	nowFn func() time.Time
}

type Slot struct {
	Name   string
	Hour   int
	Minute int
}

// ParseSlot parses "name=15:04" into a Slot.
func ParseSlot(raw string) (Slot, error) {
	name, clock, ok := strings.Cut(strings.TrimSpace(raw), "=")
	if !ok {
		return Slot{}, fmt.Errorf("slot %q: want name=HH:MM", raw)
	}
	t, err := time.Parse("15:04", strings.TrimSpace(clock))
	if err != nil {
		return Slot{}, fmt.Errorf("slot %q: %w", raw, err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Slot{}, fmt.Errorf("slot %q: empty name", raw)
	}
	return Slot{Name: name, Hour: t.Hour(), Minute: t.Minute()}, nil
}

func NewSlotScheduler(ctx context.Context, name string, slots []Slot, loc *time.Location) *SlotScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &SlotScheduler{
		Name:     name,
		Slots:    slots,
		Location: loc,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

func (s *SlotScheduler) Start(task func(now time.Time)) {
	if s == nil || task == nil || len(s.Slots) == 0 {
		return
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	logger.Infof("SlotScheduler[%s]: started with %d slots tz=%s", s.Name, len(s.Slots), s.Location)

	for {
		now := s.nowFn().In(s.Location)
		slot, wakeAt := s.nextSlot(now)
		wait := wakeAt.Sub(now)
		logger.Debugf("SlotScheduler[%s]: next slot %s at %s (in %s)",
			s.Name, slot.Name, wakeAt.Format(time.RFC3339), wait.Truncate(time.Second))

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("SlotScheduler[%s]: ctx done, exit", s.Name)
			return
		case <-timer.C:
		}
		logger.Infof("SlotScheduler[%s]: slot %s fired", s.Name, slot.Name)
		task(s.nowFn())
	}
}

func (s *SlotScheduler) nextSlot(now time.Time) (Slot, time.Time) {
	type candidate struct {
		slot Slot
		at   time.Time
	}
	cands := make([]candidate, 0, len(s.Slots)*2)
	for _, slot := range s.Slots {
		today := time.Date(now.Year(), now.Month(), now.Day(), slot.Hour, slot.Minute, 0, 0, s.Location)
		if today.After(now) {
			cands = append(cands, candidate{slot, today})
		}
		cands = append(cands, candidate{slot, today.AddDate(0, 0, 1)})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].at.Before(cands[j].at) })
	return cands[0].slot, cands[0].at
}

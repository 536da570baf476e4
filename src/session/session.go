package session

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
)

type Event string

const (
	MarketOpen             Event = "market_open"
	MarketCloseApproaching Event = "market_close_approaching"
	MarketClosed           Event = "market_closed"
)

// Phase is the classified state of the trading day at a point in time.
type Phase string

const (
	PhaseClosed         Phase = "closed"
	PhaseOpen           Phase = "open"
	PhaseCloseApproach  Phase = "close_approaching"
	PhaseHolidayWeekend Phase = "weekend_holiday"
)

const (
	DaysPerWeek          = 7
	OffsetDaysForNewYear = 1
	NewYearDay           = 1
	ThirdMondayOffset    = 2
	FourthThursdayOffset = 3
)

// Classify returns the session phase for now, evaluated in New York time.
func Classify(now time.Time, cfg Config) Phase {
	if cfg.AlwaysOpenForDev {
		return PhaseOpen
	}
	et := getEasternTime(now)

	if et.Weekday() == time.Saturday || et.Weekday() == time.Sunday {
		return PhaseHolidayWeekend
	}
	if !cfg.IgnoreHolidays && isHoliday(et) {
		return PhaseHolidayWeekend
	}

	minute := et.Hour()*60 + et.Minute()
	if minute < cfg.OpenMinute || minute >= cfg.CloseMinute {
		return PhaseClosed
	}
	closeAt := time.Date(et.Year(), et.Month(), et.Day(), 0, cfg.CloseMinute, 0, 0, et.Location())
	if closeAt.Sub(et) <= cfg.CloseLead {
		return PhaseCloseApproach
	}
	return PhaseOpen
}

// EventFor maps a phase onto the event announced when entering it.
func EventFor(p Phase) Event {
	switch p {
	case PhaseOpen:
		return MarketOpen
	case PhaseCloseApproach:
		return MarketCloseApproaching
	default:
		return MarketClosed
	}
}

// TradingDay returns the New York calendar day of t, used for daily resets.
func TradingDay(t time.Time) string {
	return getEasternTime(t).Format("2006-01-02")
}

// Clock polls the wall clock and emits an event on every phase change.
type Clock struct {
	cfg Config
	log *logger.Entry
	now func() time.Time
}

func NewClock(cfg Config, log *logger.Entry) *Clock {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	return &Clock{cfg: cfg, log: log.WithField("component", "session_clock"), now: time.Now}
}

// Watch emits the current phase's event immediately and then every transition.
// The channel is closed when ctx is done.
func (c *Clock) Watch(ctx context.Context) <-chan Event {
	out := make(chan Event, 4)
	go func() {
		defer close(out)
		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()

		last := Classify(c.now(), c.cfg)
		if !c.send(ctx, out, EventFor(last)) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				phase := Classify(c.now(), c.cfg)
				if EventFor(phase) == EventFor(last) {
					last = phase
					continue
				}
				c.log.WithFields(logger.Fields{"from": last, "to": phase}).Info("session phase changed")
				last = phase
				if !c.send(ctx, out, EventFor(phase)) {
					return
				}
			}
		}
	}()
	return out
}

func (c *Clock) send(ctx context.Context, out chan<- Event, evt Event) bool {
	select {
	case out <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

func getEasternTime(t time.Time) time.Time {
	nyLocation, err := time.LoadLocation("America/New_York")
	if err != nil {
		return t.UTC()
	}
	return t.In(nyLocation)
}

// isHoliday covers the NYSE full-day closures that fall on fixed rules.
func isHoliday(t time.Time) bool {
	year := t.Year()

	newYearsDay := time.Date(year, time.January, NewYearDay, 0, 0, 0, 0, time.UTC)
	if newYearsDay.Weekday() == time.Sunday {
		newYearsDay = newYearsDay.AddDate(0, 0, OffsetDaysForNewYear)
	}

	mlkDay := calculateSpecificMonday(year, time.January, ThirdMondayOffset)
	presidentsDay := calculateSpecificMonday(year, time.February, ThirdMondayOffset)

	memorialDay := time.Date(year, time.May, 31, 0, 0, 0, 0, time.UTC)
	for memorialDay.Weekday() != time.Monday {
		memorialDay = memorialDay.AddDate(0, 0, -1)
	}

	juneteenth := observed(time.Date(year, time.June, 19, 0, 0, 0, 0, time.UTC))
	independenceDay := observed(time.Date(year, time.July, 4, 0, 0, 0, 0, time.UTC))

	laborDay := calculateSpecificMonday(year, time.September, 0)
	thanksgivingDay := calculateSpecificThursday(year, time.November, FourthThursdayOffset)
	christmasDay := observed(time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC))

	holidays := []time.Time{
		newYearsDay,
		mlkDay,
		presidentsDay,
		memorialDay,
		juneteenth,
		independenceDay,
		laborDay,
		thanksgivingDay,
		christmasDay,
	}
	return isDateAmong(t, holidays)
}

// observed shifts a fixed-date holiday off the weekend.
func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	default:
		return d
	}
}

// calculateSpecificMonday calculates the specific Monday of a month (like the third Monday).
func calculateSpecificMonday(year int, month time.Month, mondayOffset int) time.Time {
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := int(time.Monday-firstOfMonth.Weekday()+DaysPerWeek) % DaysPerWeek
	return firstOfMonth.AddDate(0, 0, offset+mondayOffset*DaysPerWeek)
}

// calculateSpecificThursday calculates the specific Thursday of a month (like the fourth Thursday).
func calculateSpecificThursday(year int, month time.Month, thursdayOffset int) time.Time {
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := int(time.Thursday-firstOfMonth.Weekday()+DaysPerWeek) % DaysPerWeek
	return firstOfMonth.AddDate(0, 0, offset+thursdayOffset*DaysPerWeek)
}

func isDateAmong(t time.Time, dates []time.Time) bool {
	for _, d := range dates {
		if t.Format("2006-01-02") == d.Format("2006-01-02") {
			return true
		}
	}
	return false
}

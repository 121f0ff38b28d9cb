package server

import (
	"fmt"
	"time"

	"github.com/samber/mo"

	"github.com/jhenriksen/calcache/materialize"
	"github.com/jhenriksen/calcache/store"
)

// EventDTO is the wire form of a stored event. Optional instants are
// pointers; absent recurrence fields are empty strings, mirroring
// storage.
type EventDTO struct {
	ID         string `json:"id"`
	CalendarID string `json:"calendarId"`

	Summary     string `json:"summary,omitempty"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	DtStart  time.Time  `json:"dtstart"`
	DtEnd    *time.Time `json:"dtend,omitempty"`
	Duration string     `json:"duration,omitempty"`
	AllDay   bool       `json:"allDay,omitempty"`
	Timezone string     `json:"timezone,omitempty"`

	RRule  string `json:"rrule,omitempty"`
	RDate  string `json:"rdate,omitempty"`
	ExRule string `json:"exrule,omitempty"`
	ExDate string `json:"exdate,omitempty"`

	OriginalID           string     `json:"originalId,omitempty"`
	OriginalInstanceTime *time.Time `json:"originalInstanceTime,omitempty"`
	OriginalAllDay       bool       `json:"originalAllDay,omitempty"`

	Status string `json:"status,omitempty"`
}

const (
	statusConfirmed = "confirmed"
	statusCanceled  = "canceled"
)

func (d *EventDTO) toEvent() (*store.Event, error) {
	ev := &store.Event{
		ID:             d.ID,
		CalendarID:     d.CalendarID,
		Summary:        d.Summary,
		Description:    d.Description,
		Location:       d.Location,
		DtStart:        d.DtStart,
		Duration:       d.Duration,
		AllDay:         d.AllDay,
		Timezone:       d.Timezone,
		RRule:          d.RRule,
		RDate:          d.RDate,
		ExRule:         d.ExRule,
		ExDate:         d.ExDate,
		OriginalID:     d.OriginalID,
		OriginalAllDay: d.OriginalAllDay,
	}
	if d.DtEnd != nil {
		ev.DtEnd = mo.Some(*d.DtEnd)
	}
	if d.OriginalInstanceTime != nil {
		ev.OriginalInstanceTime = mo.Some(*d.OriginalInstanceTime)
	}
	switch d.Status {
	case "", statusConfirmed:
		ev.Status = store.StatusConfirmed
	case statusCanceled:
		ev.Status = store.StatusCanceled
	default:
		return nil, fmt.Errorf("unknown status %q", d.Status)
	}
	return ev, nil
}

func eventDTO(ev *store.Event) EventDTO {
	d := EventDTO{
		ID:             ev.ID,
		CalendarID:     ev.CalendarID,
		Summary:        ev.Summary,
		Description:    ev.Description,
		Location:       ev.Location,
		DtStart:        ev.DtStart,
		Duration:       ev.Duration,
		AllDay:         ev.AllDay,
		Timezone:       ev.Timezone,
		RRule:          ev.RRule,
		RDate:          ev.RDate,
		ExRule:         ev.ExRule,
		ExDate:         ev.ExDate,
		OriginalID:     ev.OriginalID,
		OriginalAllDay: ev.OriginalAllDay,
		Status:         statusConfirmed,
	}
	if end, ok := ev.DtEnd.Get(); ok {
		d.DtEnd = &end
	}
	if orig, ok := ev.OriginalInstanceTime.Get(); ok {
		d.OriginalInstanceTime = &orig
	}
	if ev.Status == store.StatusCanceled {
		d.Status = statusCanceled
	}
	return d
}

// InstanceDTO is the wire form of one materialized instance.
type InstanceDTO struct {
	EventID  string    `json:"eventId"`
	Begin    time.Time `json:"begin"`
	End      time.Time `json:"end"`
	StartDay int       `json:"startDay"`
	EndDay   int       `json:"endDay"`
	AllDay   bool      `json:"allDay,omitempty"`
	Summary  string    `json:"summary,omitempty"`
	Location string    `json:"location,omitempty"`
}

func instanceDTOs(instances []store.Instance) []InstanceDTO {
	dtos := make([]InstanceDTO, 0, len(instances))
	for _, in := range instances {
		dtos = append(dtos, InstanceDTO{
			EventID:  in.EventID,
			Begin:    in.Begin,
			End:      in.End,
			StartDay: in.StartDay,
			EndDay:   in.EndDay,
			AllDay:   in.AllDay,
			Summary:  in.Summary,
			Location: in.Location,
		})
	}
	return dtos
}

// DayBusyDTO is the JSON form of one day's occupancy.
type DayBusyDTO struct {
	JulianDay   int    `json:"julianDay"`
	Date        string `json:"date"`
	Busy        string `json:"busy"`
	AllDayCount int    `json:"allDayCount"`
}

func dayBusyDTOs(days []materialize.DayBusy, loc *time.Location) []DayBusyDTO {
	dtos := make([]DayBusyDTO, 0, len(days))
	for _, d := range days {
		dtos = append(dtos, DayBusyDTO{
			JulianDay:   d.JulianDay,
			Date:        dayDate(d.JulianDay, loc),
			Busy:        fmt.Sprintf("0x%08x", d.Busy),
			AllDayCount: d.AllDayCount,
		})
	}
	return dtos
}

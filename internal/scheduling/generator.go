package scheduling

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

type GeneratorConfig struct {
	Location     *time.Location
	MaxRangeDays int
	Metrics      *metrics.SchedulingMetrics
}

// Generator turns weekly templates into dated slot instances.
type Generator struct {
	templates TemplateStore
	slots     SlotStore
	cfg       GeneratorConfig
}

func NewGenerator(templates TemplateStore, slots SlotStore, cfg GeneratorConfig) *Generator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Generator{
		templates: templates,
		slots:     slots,
		cfg:       cfg,
	}
}

// Expand partitions the template window on date into back-to-back slots of
// SlotDurationMinutes. A trailing partial slot is dropped. Invalid templates
// expand to nothing.
func Expand(t AvailabilityTemplate, date time.Time, loc *time.Location) []SlotInstance {
	if t.Validate() != nil || date.Weekday() != t.DayOfWeek {
		return nil
	}

	date = DateOf(date)
	step := ClockTime(t.SlotDurationMinutes)
	var out []SlotInstance
	for start := t.StartTime; start+step <= t.EndTime; start += step {
		end := start + step
		out = append(out, SlotInstance{
			ID:        SlotID(t.DoctorID, date, start),
			DoctorID:  t.DoctorID,
			Date:      date,
			StartTime: start,
			EndTime:   end,
			StartsAt:  start.On(date, loc),
			EndsAt:    end.On(date, loc),
			Capacity:  t.CapacityPerSlot,
		})
	}
	return out
}

// Generate returns the doctor's slot instances in r, materialising dates
// that have never been generated. Dates that already hold slots are returned
// as stored, so occupancy is never reset and template edits do not reach
// back into them. Dates covered by an exception yield nothing.
func (g *Generator) Generate(ctx context.Context, doctorID uuid.UUID, r DateRange) ([]SlotInstance, error) {
	if err := r.Validate(g.cfg.MaxRangeDays); err != nil {
		return nil, err
	}
	r = NewDateRange(r.From, r.To)

	templates, err := g.templates.ListTemplates(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	byDay := make(map[time.Weekday]AvailabilityTemplate, len(templates))
	for _, t := range templates {
		if t.Validate() == nil {
			byDay[t.DayOfWeek] = t
		}
	}

	exceptions, err := g.templates.ListExceptions(ctx, doctorID, r)
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	blocked := make(map[string]bool, len(exceptions))
	for _, e := range exceptions {
		if e.AppliesTo(doctorID) {
			blocked[FormatDate(e.Date)] = true
		}
	}

	existing, err := g.slots.ListSlots(ctx, doctorID, r)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	materialised := make(map[string]bool)
	for _, s := range existing {
		materialised[FormatDate(s.Date)] = true
	}

	var fresh []SlotInstance
	for _, date := range r.Dates() {
		key := FormatDate(date)
		if blocked[key] || materialised[key] {
			continue
		}
		t, ok := byDay[date.Weekday()]
		if !ok {
			continue
		}
		fresh = append(fresh, Expand(t, date, g.cfg.Location)...)
	}

	if len(fresh) > 0 {
		n, err := g.slots.InsertSlots(ctx, fresh)
		if err != nil {
			return nil, fmt.Errorf("insert slots: %w", err)
		}
		g.cfg.Metrics.AddGeneratedSlots(n)

		existing, err = g.slots.ListSlots(ctx, doctorID, r)
		if err != nil {
			return nil, fmt.Errorf("list slots: %w", err)
		}
	}

	out := make([]SlotInstance, 0, len(existing))
	for _, s := range existing {
		if !blocked[FormatDate(s.Date)] {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b SlotInstance) int {
		return a.StartsAt.Compare(b.StartsAt)
	})
	return out, nil
}

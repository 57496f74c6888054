package schedule

import (
	"strings"
	"time"

	"checkline/internal/domain"
)

// Interval classes recognized in template frequency text. The classifier is
// a fixed, ordered rule table, not a language: unrecognized text means the
// task is manual or triggered and falls due immediately.
const (
	atOpen     = 0
	hourly     = 60 * time.Minute
	everyTwo   = 120 * time.Minute
	midShift   = 240 * time.Minute
	endOfShift = 480 * time.Minute
)

// NextDueAt computes when the next instance of a template falls due,
// counting from the given reference time. An active escalation override
// (in minutes) wins over the template's own frequency text.
func NextDueAt(tpl domain.TaskTemplate, from time.Time, overrideMinutes int) time.Time {
	if overrideMinutes > 0 {
		return from.Add(time.Duration(overrideMinutes) * time.Minute)
	}
	return from.Add(baseDelay(tpl.Freq))
}

func baseDelay(freq string) time.Duration {
	f := strings.ToLower(freq)
	switch {
	case strings.Contains(f, "shift start"):
		return atOpen
	case strings.Contains(f, "hourly"):
		return hourly
	case strings.Contains(f, "every 2"):
		return everyTwo
	case strings.Contains(f, "mid-shift"):
		return midShift
	case strings.Contains(f, "closing"):
		return endOfShift
	default:
		return atOpen
	}
}

// BaseIntervalMinutes returns the template's recheck interval in minutes,
// or zero for templates without a recognized hourly or two-hourly cadence.
// Only templates with a nonzero base interval are subject to escalation.
func BaseIntervalMinutes(tpl domain.TaskTemplate) int {
	f := strings.ToLower(tpl.Freq)
	switch {
	case strings.Contains(f, "hourly"):
		return 60
	case strings.Contains(f, "every 2"):
		return 120
	default:
		return 0
	}
}

// IsRecurring reports whether completing an instance of this template
// schedules a successor.
func IsRecurring(tpl domain.TaskTemplate) bool {
	f := strings.ToLower(tpl.Freq)
	for _, cue := range []string{"hourly", "every 2", "mid-shift", "delivery", "batch", "closing"} {
		if strings.Contains(f, cue) {
			return true
		}
	}
	return false
}

// SeedAtOpen reports whether a template gets an instance when a shift
// starts: every opening and closing check, plus service checks that run on
// an interval cadence. Purely triggered service checks (deliveries, batch
// cooking) are scheduled on demand instead.
func SeedAtOpen(tpl domain.TaskTemplate) bool {
	switch tpl.Section {
	case domain.SectionOpening, domain.SectionClosing:
		return true
	case domain.SectionService:
		f := strings.ToLower(tpl.Freq)
		return strings.Contains(f, "hourly") || strings.Contains(f, "every 2") || strings.Contains(f, "mid-shift")
	default:
		return false
	}
}

package store

import (
	"fmt"
	"time"

	"digiturno/queue-service/internal/models"
)

const displayCodePad = 3

// EstimatedMinutesPerTicket is the flat per-ticket service-time assumption
// used for queue ETAs. It is not measured.
const EstimatedMinutesPerTicket = 5

var priorityLetters = map[string]string{
	models.PriorityDisability: "D",
	models.PriorityPregnancy:  "E",
	models.PriorityElderly:    "M",
	models.PriorityNone:       "A",
}

var priorityRanks = map[string]int{
	models.PriorityDisability: 0,
	models.PriorityPregnancy:  1,
	models.PriorityElderly:    2,
	models.PriorityNone:       3,
}

// NormalizePriority maps unknown or empty priorities to "none". A ticket's
// priority is fixed at creation and never re-evaluated.
func NormalizePriority(priority string) string {
	if _, ok := priorityLetters[priority]; ok {
		return priority
	}
	return models.PriorityNone
}

func PriorityRank(priority string) int {
	rank, ok := priorityRanks[priority]
	if !ok {
		return priorityRanks[models.PriorityNone]
	}
	return rank
}

func DisplayCode(priority string, sequence int) string {
	return fmt.Sprintf("%s-%0*d", priorityLetters[NormalizePriority(priority)], displayCodePad, sequence)
}

// DayOf is the calendar day a timestamp belongs to. Numbering and queue
// scans are scoped by this value, which is what resets queues at midnight
// without a scheduled job.
func DayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// ElapsedSeconds clamps negative intervals to zero so clock skew never
// produces negative wait or service durations.
func ElapsedSeconds(from, to time.Time) int {
	seconds := int(to.Sub(from) / time.Second)
	if seconds < 0 {
		return 0
	}
	return seconds
}

// EstimatedWaitMinutes is position times the flat per-ticket assumption.
func EstimatedWaitMinutes(position int) int {
	return position * EstimatedMinutesPerTicket
}

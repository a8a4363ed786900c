// Package roster binds the roster app's entities to the sync engine.
//
// # Entities
//
// Each entity kind has a fixed local key and remote path:
//
//	roster          roster-{group}         rosters/{group}         {"athletes": [...]}
//	configuration   config-{name}          config/{name}           {"value": ...}
//	schedule        schedule-{group}       schedules/{group}       Schedule object
//	audit log       audit-{date}           audit/{date}            {"entries": [...]}
//	daily snapshot  snapshot-{date}        snapshots/{date}        DailySnapshot object
//	feedback        feedback-{athleteId}   feedback/{athleteId}    {"entries": [...]}
//
// Dates are YYYY-MM-DD. Groups, configuration names and athlete IDs must be
// usable as a single path segment.
//
// # Roster Files
//
// Rosters can be exchanged as files named {group}.json or {group}.toml:
//
//	[
//	  {"id": "a1", "name": "Ana", "xp": 120}
//	]
//
//	group = "gold"
//
//	[[athletes]]
//	id = "a1"
//	name = "Ana"
//	xp = 120
//
// The JSON form also accepts the {"group": ..., "athletes": [...]} envelope.
package roster

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the format of every date key.
const DateLayout = "2006-01-02"

// DefaultGroups are the training groups rosters are kept for.
var DefaultGroups = []string{"platinum", "gold", "silver", "bronze"}

// DefaultConfigNames are the configuration blobs shared across devices.
var DefaultConfigNames = []string{"pin", "culture", "challenges", "coaches"}

// Athlete is one roster entry. The sync layer treats it as opaque data.
type Athlete struct {
	ID          string   `json:"id" toml:"id" yaml:"id"`
	Name        string   `json:"name" toml:"name" yaml:"name"`
	Group       string   `json:"group,omitempty" toml:"group,omitempty" yaml:"group,omitempty"`
	XP          int      `json:"xp" toml:"xp" yaml:"xp"`
	Streak      int      `json:"streak" toml:"streak" yaml:"streak"`
	Level       int      `json:"level" toml:"level" yaml:"level"`
	LastCheckIn string   `json:"lastCheckIn,omitempty" toml:"last_check_in,omitempty" yaml:"lastCheckIn,omitempty"` // YYYY-MM-DD
	Badges      []string `json:"badges,omitempty" toml:"badges,omitempty" yaml:"badges,omitempty"`
}

// Validate checks if the Athlete has valid field values.
func (a *Athlete) Validate() error {
	if err := ValidateName("id", a.ID); err != nil {
		return err
	}
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("athlete %s: name is required", a.ID)
	}
	if a.XP < 0 || a.Streak < 0 || a.Level < 0 {
		return fmt.Errorf("athlete %s: xp, streak and level must not be negative", a.ID)
	}
	if a.LastCheckIn != "" {
		if err := ValidateDate(a.LastCheckIn); err != nil {
			return fmt.Errorf("athlete %s: %w", a.ID, err)
		}
	}
	return nil
}

// Session is one recurring training slot.
type Session struct {
	Day      string `json:"day" yaml:"day"`     // monday..sunday
	Start    string `json:"start" yaml:"start"` // HH:MM
	End      string `json:"end" yaml:"end"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
}

// Schedule is the weekly plan of one group.
type Schedule struct {
	Group     string    `json:"group" yaml:"group"`
	Sessions  []Session `json:"sessions" yaml:"sessions"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// AuditEntry records one change made by a coach.
type AuditEntry struct {
	Time      time.Time `json:"time" yaml:"time"`
	Actor     string    `json:"actor" yaml:"actor"`
	Action    string    `json:"action" yaml:"action"`
	AthleteID string    `json:"athleteId,omitempty" yaml:"athleteId,omitempty"`
	Detail    string    `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// GroupSummary aggregates one group for a DailySnapshot.
type GroupSummary struct {
	Athletes int `json:"athletes" yaml:"athletes"`
	TotalXP  int `json:"totalXp" yaml:"totalXp"`
	CheckIns int `json:"checkIns" yaml:"checkIns"`
}

// DailySnapshot is the end-of-day state of every group.
type DailySnapshot struct {
	Date    string                  `json:"date" yaml:"date"`
	Groups  map[string]GroupSummary `json:"groups" yaml:"groups"`
	TakenAt time.Time               `json:"takenAt" yaml:"takenAt"`
}

// Summarize builds the snapshot for date from the given rosters. An athlete
// counts as checked in when LastCheckIn equals date.
func Summarize(date string, rosters map[string][]Athlete, now time.Time) DailySnapshot {
	snap := DailySnapshot{Date: date, Groups: make(map[string]GroupSummary, len(rosters)), TakenAt: now.UTC()}
	for group, athletes := range rosters {
		var sum GroupSummary
		for _, a := range athletes {
			sum.Athletes++
			sum.TotalXP += a.XP
			if a.LastCheckIn == date {
				sum.CheckIns++
			}
		}
		snap.Groups[group] = sum
	}
	return snap
}

// FeedbackEntry is one note left for an athlete.
type FeedbackEntry struct {
	ID        string    `json:"id" yaml:"id"`
	AthleteID string    `json:"athleteId" yaml:"athleteId"`
	Author    string    `json:"author" yaml:"author"`
	Message   string    `json:"message" yaml:"message"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

// ValidateName checks that value can be used as one path segment.
func ValidateName(what, value string) error {
	switch {
	case value == "":
		return fmt.Errorf("%s is required", what)
	case value == "." || value == "..":
		return fmt.Errorf("%s %q is not allowed", what, value)
	case strings.ContainsAny(value, "/\\\x00"):
		return fmt.Errorf("%s %q must not contain slashes", what, value)
	case len(value) > 128:
		return fmt.Errorf("%s must be 128 characters or less (got %d)", what, len(value))
	}
	return nil
}

// ValidateGroup checks a group name.
func ValidateGroup(group string) error {
	return ValidateName("group", group)
}

// ValidateDate checks that date is YYYY-MM-DD.
func ValidateDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("date %q must be YYYY-MM-DD", date)
	}
	return nil
}

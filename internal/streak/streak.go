// Package streak tracks daily submission streaks, streak badges and daily
// challenge participation.
package streak

import (
	"strings"
	"time"

	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

var badgeThresholds = []struct {
	days  int
	badge types.BadgeType
}{
	{3, types.BadgeStreak3},
	{7, types.BadgeStreak7},
	{14, types.BadgeStreak14},
	{21, types.BadgeStreak21},
	{30, types.BadgeStreak30},
}

// Advance applies a submission on the day of at to state. A second
// submission on the same day changes nothing; a submission the day after the
// last one extends the streak; anything else starts a new streak of 1.
// Submissions dated before the last recorded day are ignored.
func Advance(state types.UserStreak, at time.Time) types.UserStreak {
	day := types.Day(at)
	next := state

	if state.LastSubmissionDate != nil {
		last := types.Day(*state.LastSubmissionDate)
		switch {
		case !day.After(last):
			return state
		case last.AddDate(0, 0, 1).Equal(day):
			next.CurrentStreak = state.CurrentStreak + 1
		default:
			next.CurrentStreak = 1
		}
	} else {
		next.CurrentStreak = 1
	}

	if next.CurrentStreak > next.MaxStreak {
		next.MaxStreak = next.CurrentStreak
	}
	next.LastSubmissionDate = &day
	return next
}

// BadgesFor lists every badge earned at a current streak of current days
func BadgesFor(current int) []types.BadgeType {
	var badges []types.BadgeType
	for _, t := range badgeThresholds {
		if current >= t.days {
			badges = append(badges, t.badge)
		}
	}
	return badges
}

// Participated reports whether any idea submitted on day takes part in
// challenge: its text contains the keyword, or it carries the theme tag or
// the daily-challenge tag.
func Participated(ideas []types.Idea, challenge *types.DailyChallenge, day time.Time) bool {
	if challenge == nil {
		return false
	}
	target := types.Day(day)
	for i := range ideas {
		if !types.Day(ideas[i].CreatedAt).Equal(target) {
			continue
		}
		if Matches(&ideas[i], challenge) {
			return true
		}
	}
	return false
}

// Matches reports whether a single idea takes part in challenge
func Matches(idea *types.Idea, challenge *types.DailyChallenge) bool {
	if idea.HasTag(types.TagDailyChallenge) {
		return true
	}
	if theme := strings.TrimSpace(challenge.Theme); theme != "" && idea.HasTag(theme) {
		return true
	}
	keyword := strings.ToLower(strings.TrimSpace(challenge.Keyword))
	return keyword != "" && strings.Contains(strings.ToLower(idea.Text), keyword)
}

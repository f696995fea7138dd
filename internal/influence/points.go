package influence

import (
	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

// pointTable holds points per unit of each action
var pointTable = map[types.ActionType]int{
	types.ActionInviteSuccess:        50,
	types.ActionFriendRemix:          10,
	types.ActionIdeaRemixed:          5,
	types.ActionVCInterest:           20,
	types.ActionDailyStreak:          15,
	types.ActionKeywordParticipation: 10,
	types.ActionRemixCreated:         8,
	types.ActionIdeaRemixedBonus:     5,
}

// scaled actions multiply by their count; the rest are flat awards
var scaledActions = map[types.ActionType]bool{
	types.ActionInviteSuccess: true,
	types.ActionFriendRemix:   true,
	types.ActionIdeaRemixed:   true,
	types.ActionVCInterest:    true,
}

var descriptions = map[types.ActionType]string{
	types.ActionInviteSuccess:        "Invited a friend",
	types.ActionFriendRemix:          "A friend remixed an idea",
	types.ActionIdeaRemixed:          "Idea was remixed",
	types.ActionVCInterest:           "Investor showed interest",
	types.ActionDailyStreak:          "Daily submission streak",
	types.ActionKeywordParticipation: "Joined the daily challenge",
	types.ActionRemixCreated:         "Created a remix",
	types.ActionIdeaRemixedBonus:     "Original idea was remixed",
}

// PointsFor returns the award for count occurrences of action
func PointsFor(action types.ActionType, count int) (int, error) {
	base, ok := pointTable[action]
	if !ok {
		return 0, errors.NewValidationError("unknown action type", string(action))
	}
	if !scaledActions[action] {
		return base, nil
	}
	if count < 1 {
		count = 1
	}
	return base * count, nil
}

// Description is the default ledger text for action
func Description(action types.ActionType) string {
	return descriptions[action]
}

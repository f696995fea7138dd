package types

import (
	"strings"
	"time"
)

// DateLayout is the calendar-day format used for streaks, challenges and windows
const DateLayout = "2006-01-02"

// Day truncates t to its UTC calendar day
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IdeaStatus separates "not analyzed yet" from "analysis failed" so a score is
// never used as a sentinel.
type IdeaStatus string

const (
	StatusUnscored       IdeaStatus = "unscored"
	StatusScored         IdeaStatus = "scored"
	StatusAnalysisFailed IdeaStatus = "analysis_failed"
)

// Tags with special meaning
const (
	TagRemix          = "remix"
	TagDailyChallenge = "daily-challenge"
	TagSeed           = "seed"
	TagDemo           = "demo"
)

// Analysis is the structured output of the AI analysis service
type Analysis struct {
	Improvements    []string `json:"improvements"`
	MarketPotential []string `json:"market_potential"`
	SimilarIdeas    []string `json:"similar_ideas"`
	PitchPoints     []string `json:"pitch_points"`
	Raw             string   `json:"raw_analysis"`
}

// Idea is a submitted idea and its place in the remix graph
type Idea struct {
	ID              string     `json:"id"`
	AuthorID        string     `json:"author_id"`
	Text            string     `json:"text"`
	Score           *float64   `json:"score"`
	Status          IdeaStatus `json:"status"`
	Tags            []string   `json:"tags"`
	Language        string     `json:"language,omitempty"`
	Analysis        Analysis   `json:"analysis"`
	RemixParentID   *string    `json:"remix_parent_id,omitempty"`
	RemixChainDepth int        `json:"remix_chain_depth"`
	RemixCount      int        `json:"remix_count"`
	IsSeed          bool       `json:"is_seed,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HasTag reports whether the idea carries tag, ignoring case
func (i *Idea) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// ModuleType is the closed set of idea building blocks
type ModuleType string

const (
	ModuleProblem              ModuleType = "problem"
	ModuleSolution             ModuleType = "solution"
	ModuleTargetCustomer       ModuleType = "target_customer"
	ModuleValueProposition     ModuleType = "value_proposition"
	ModuleRevenueModel         ModuleType = "revenue_model"
	ModuleKeyActivities        ModuleType = "key_activities"
	ModuleKeyResources         ModuleType = "key_resources"
	ModuleChannels             ModuleType = "channels"
	ModuleCompetitiveAdvantage ModuleType = "competitive_advantage"
	ModuleMarketSize           ModuleType = "market_size"
	ModuleTeam                 ModuleType = "team"
	ModulePotentialRisks       ModuleType = "potential_risks"
	ModuleTypeUnknown          ModuleType = "unknown"
)

// ModuleTypes lists the known module types in display order
var ModuleTypes = []ModuleType{
	ModuleProblem, ModuleSolution, ModuleTargetCustomer, ModuleValueProposition,
	ModuleRevenueModel, ModuleKeyActivities, ModuleKeyResources, ModuleChannels,
	ModuleCompetitiveAdvantage, ModuleMarketSize, ModuleTeam, ModulePotentialRisks,
}

// ParseModuleType maps s onto a known type, or ModuleTypeUnknown
func ParseModuleType(s string) ModuleType {
	normalized := ModuleType(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range ModuleTypes {
		if t == normalized {
			return t
		}
	}
	return ModuleTypeUnknown
}

// Known reports whether t is part of the enumeration
func (t ModuleType) Known() bool {
	return ParseModuleType(string(t)) != ModuleTypeUnknown
}

// Module is a reusable fragment of an idea
type Module struct {
	ID           string     `json:"id"`
	Type         ModuleType `json:"module_type"`
	Content      string     `json:"content"`
	Tags         []string   `json:"tags"`
	CreatedBy    string     `json:"created_by"`
	QualityScore float64    `json:"quality_score"`
	UsageCount   int        `json:"usage_count"`
	Embedding    []float32  `json:"-"`
	HasEmbedding bool       `json:"has_embedding"`
	Version      int        `json:"version"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ModuleCombination records an evaluated module set
type ModuleCombination struct {
	ID              string    `json:"id"`
	ModuleIDs       []string  `json:"module_ids"`
	Novelty         float64   `json:"novelty_score"`
	Complementarity float64   `json:"complementarity_score"`
	Marketability   float64   `json:"marketability_score"`
	Overall         float64   `json:"overall_score"`
	CreatedBy       string    `json:"created_by,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ActionType names an influence-earning event
type ActionType string

const (
	ActionInviteSuccess        ActionType = "invite_success"
	ActionFriendRemix          ActionType = "friend_remix"
	ActionIdeaRemixed          ActionType = "idea_remixed"
	ActionVCInterest           ActionType = "vc_interest"
	ActionDailyStreak          ActionType = "daily_streak"
	ActionKeywordParticipation ActionType = "keyword_participation"
	ActionRemixCreated         ActionType = "remix_created"
	ActionIdeaRemixedBonus     ActionType = "idea_remixed_bonus"
	ActionUnknown              ActionType = "unknown"
)

var actionTypes = []ActionType{
	ActionInviteSuccess, ActionFriendRemix, ActionIdeaRemixed, ActionVCInterest,
	ActionDailyStreak, ActionKeywordParticipation, ActionRemixCreated, ActionIdeaRemixedBonus,
}

// ParseActionType maps s onto a known action, or ActionUnknown
func ParseActionType(s string) ActionType {
	normalized := ActionType(strings.ToLower(strings.TrimSpace(s)))
	for _, a := range actionTypes {
		if a == normalized {
			return a
		}
	}
	return ActionUnknown
}

// LedgerEntry is one immutable influence award
type LedgerEntry struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Action      ActionType `json:"action_type"`
	Points      int        `json:"points"`
	Description string     `json:"description"`
	ReferenceID string     `json:"reference_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Window selects which materialized influence total to read
type Window string

const (
	WindowTotal   Window = "total"
	WindowWeekly  Window = "weekly"
	WindowMonthly Window = "monthly"
)

// ParseWindow defaults to WindowTotal for an empty string
func ParseWindow(s string) (Window, bool) {
	switch Window(strings.ToLower(s)) {
	case "", WindowTotal:
		return WindowTotal, true
	case WindowWeekly:
		return WindowWeekly, true
	case WindowMonthly:
		return WindowMonthly, true
	}
	return "", false
}

// WeekStart returns the Monday starting t's week
func WeekStart(t time.Time) time.Time {
	day := Day(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// MonthStart returns the first day of t's month
func MonthStart(t time.Time) time.Time {
	day := Day(t)
	return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// InfluenceScore is the materialized per-user aggregate of the ledger
type InfluenceScore struct {
	UserID     string    `json:"user_id"`
	Total      int       `json:"total_score"`
	Weekly     int       `json:"weekly_score"`
	Monthly    int       `json:"monthly_score"`
	WeekStart  string    `json:"week_start"`
	MonthStart string    `json:"month_start"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Points returns the value for window
func (s InfluenceScore) Points(window Window) int {
	switch window {
	case WindowWeekly:
		return s.Weekly
	case WindowMonthly:
		return s.Monthly
	default:
		return s.Total
	}
}

// UserStreak is a user's daily submission streak
type UserStreak struct {
	UserID             string     `json:"user_id"`
	CurrentStreak      int        `json:"current_streak"`
	MaxStreak          int        `json:"max_streak"`
	LastSubmissionDate *time.Time `json:"last_submission_date"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// BadgeType names a streak milestone badge
type BadgeType string

const (
	BadgeStreak3  BadgeType = "streak_3"
	BadgeStreak7  BadgeType = "streak_7"
	BadgeStreak14 BadgeType = "streak_14"
	BadgeStreak21 BadgeType = "streak_21"
	BadgeStreak30 BadgeType = "streak_30"
)

// Badge is a badge held by a user
type Badge struct {
	UserID    string    `json:"user_id"`
	Type      BadgeType `json:"badge_type"`
	AwardedAt time.Time `json:"awarded_at"`
}

// DailyChallenge is the prompt for one calendar day
type DailyChallenge struct {
	Date        string    `json:"date" binding:"required"`
	Keyword     string    `json:"keyword" binding:"required"`
	Theme       string    `json:"theme"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// InvitationStatus tracks an invitation code
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
)

// Invitation is a referral code issued by a user
type Invitation struct {
	Code       string           `json:"code"`
	InviterID  string           `json:"inviter_id"`
	InviteeID  string           `json:"invitee_id,omitempty"`
	Status     InvitationStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	AcceptedAt *time.Time       `json:"accepted_at,omitempty"`
}

// User is an account
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	InvitedBy   string    `json:"invited_by,omitempty"`
	IPAddress   string    `json:"-"`
	UserAgent   string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

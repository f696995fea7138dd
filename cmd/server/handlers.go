package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/idea-forge/internal/errors"
	"github.com/ZanzyTHEbar/idea-forge/internal/ideas"
	"github.com/ZanzyTHEbar/idea-forge/internal/ratelimit"
	"github.com/ZanzyTHEbar/idea-forge/internal/realtime"
	"github.com/ZanzyTHEbar/idea-forge/internal/types"
)

func currentUser(c *gin.Context) string {
	return c.GetString(ratelimit.UserIDKey)
}

// bind decodes the JSON body into req. An empty body is accepted when
// optional is set so admin routes can run with defaults.
func bind(c *gin.Context, req interface{}, optional bool) bool {
	if optional && c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		errors.Respond(c, errors.NewValidationError("invalid request body", err.Error()))
		return false
	}
	return true
}

func queryLimit(c *gin.Context, def int) int {
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func queryWindow(c *gin.Context) (types.Window, bool) {
	window, ok := types.ParseWindow(c.Query("window"))
	if !ok {
		errors.Respond(c, errors.NewValidationError("window must be total, weekly or monthly", c.Query("window")))
	}
	return window, ok
}

func (s *server) startSession(c *gin.Context) {
	var req types.SessionRequest
	if !bind(c, &req, true) {
		return
	}
	// only a valid token resumes an account; anyone else gets a new one
	req.UserID = currentUser(c)

	session, err := s.app.Users.StartSession(c.Request.Context(), req, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *server) submitIdea(c *gin.Context) {
	var req types.SubmitIdeaRequest
	if !bind(c, &req, false) {
		return
	}
	text, err := s.security.CleanText(req.Text)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	req.Text = text

	submission, err := s.app.Ideas.Submit(c.Request.Context(), currentUser(c), req)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, submission)
}

func (s *server) getIdea(c *gin.Context) {
	idea, err := s.app.Ideas.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, idea)
}

func (s *server) createRemix(c *gin.Context) {
	var req types.RemixRequest
	if !bind(c, &req, false) {
		return
	}
	text, err := s.security.CleanText(req.Text)
	if err != nil {
		errors.Respond(c, err)
		return
	}

	ctx := c.Request.Context()
	parentID := c.Param("id")

	// an unknown parent is rejected by CreateRemix as a validation error
	var parentScore float64
	parent, err := s.app.Ideas.Get(ctx, parentID)
	switch {
	case err == nil:
		if parent.Score != nil {
			parentScore = *parent.Score
		}
	case !errors.Is(err, errors.CategoryNotFound):
		errors.Respond(c, err)
		return
	}

	result, err := s.app.Remixes.CreateRemix(ctx, parentID, text, parentScore, currentUser(c))
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *server) lineage(c *gin.Context) {
	id := c.Param("id")
	ancestors, err := s.app.Remixes.Lineage(c.Request.Context(), id)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"idea_id":   id,
		"depth":     len(ancestors),
		"ancestors": ancestors,
	})
}

func (s *server) children(c *gin.Context) {
	id := c.Param("id")
	remixes, err := s.app.Remixes.Children(c.Request.Context(), id)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"idea_id": id, "remixes": remixes})
}

func (s *server) vcInterest(c *gin.Context) {
	score, err := s.app.Ideas.VCInterest(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"idea_id": c.Param("id"), "author_influence": score})
}

func (s *server) cleanModule(c *gin.Context) (types.ModuleRequest, bool) {
	var req types.ModuleRequest
	if !bind(c, &req, false) {
		return req, false
	}
	content, err := s.security.CleanText(req.Content)
	if err != nil {
		errors.Respond(c, err)
		return req, false
	}
	req.Content = content
	return req, true
}

func (s *server) createModule(c *gin.Context) {
	req, ok := s.cleanModule(c)
	if !ok {
		return
	}
	module, err := s.app.Modules.Create(c.Request.Context(), currentUser(c), req)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, module)
}

func (s *server) updateModule(c *gin.Context) {
	req, ok := s.cleanModule(c)
	if !ok {
		return
	}
	module, err := s.app.Modules.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, module)
}

func (s *server) getModule(c *gin.Context) {
	module, err := s.app.Modules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, module)
}

func (s *server) moduleQuestions(c *gin.Context) {
	questions, err := s.app.Modules.Questions(c.Request.Context(), c.Param("id"))
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, questions)
}

func (s *server) evaluateCombination(c *gin.Context) {
	var req types.CombinationRequest
	if !bind(c, &req, false) {
		return
	}
	combo, err := s.app.Combinations.EvaluateCombination(c.Request.Context(), req.ModuleIDs)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, combo)
}

func (s *server) saveCombination(c *gin.Context) {
	var req types.CombinationRequest
	if !bind(c, &req, false) {
		return
	}
	combo, err := s.app.Combinations.SaveCombination(c.Request.Context(), req.ModuleIDs, currentUser(c))
	if err != nil {
		errors.Respond(c, err)
		return
	}
	s.app.Metrics.IncrementCombinations()
	c.JSON(http.StatusCreated, combo)
}

func (s *server) influence(c *gin.Context) {
	window, ok := queryWindow(c)
	if !ok {
		return
	}
	score, err := s.app.Influence.Score(c.Request.Context(), c.Param("id"))
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id": c.Param("id"),
		"window":  window,
		"points":  score.Points(window),
		"score":   score,
	})
}

func (s *server) influenceHistory(c *gin.Context) {
	entries, err := s.app.Influence.Entries(c.Request.Context(), c.Param("id"), queryLimit(c, 50))
	if err != nil {
		errors.Respond(c, err)
		return
	}
	if entries == nil {
		entries = []types.LedgerEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("id"), "entries": entries})
}

func (s *server) streak(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("id")

	state, err := s.app.Streaks.Streak(ctx, userID)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	badges, err := s.app.Streaks.Badges(ctx, userID)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	if badges == nil {
		badges = []types.Badge{}
	}
	participated, err := s.app.Streaks.CheckParticipation(ctx, userID, time.Now().UTC())
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"streak":             state,
		"badges":             badges,
		"participated_today": participated,
	})
}

func (s *server) leaderboard(c *gin.Context) {
	window, ok := queryWindow(c)
	if !ok {
		return
	}
	board, err := s.app.Influence.Leaderboard(c.Request.Context(), window, queryLimit(c, 50))
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

func (s *server) todayChallenge(c *gin.Context) {
	challenge, err := s.app.Streaks.Today(c.Request.Context())
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, challenge)
}

func (s *server) createInvitation(c *gin.Context) {
	invitation, err := s.app.Invitations.Create(c.Request.Context(), currentUser(c))
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, invitation)
}

func (s *server) getInvitation(c *gin.Context) {
	invitation, err := s.app.Invitations.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, invitation)
}

func (s *server) acceptInvitation(c *gin.Context) {
	acceptance, err := s.app.Invitations.Accept(c.Request.Context(), c.Param("code"), currentUser(c))
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, acceptance)
}

// feed streams change events for the caller's user channel plus any tables
// named in ?tables=
func (s *server) feed(c *gin.Context) {
	userID := currentUser(c)
	hub := s.app.Hub

	client := hub.NewClient(userID)
	defer hub.CloseClient(client)

	subscribed := userID != ""
	for _, name := range strings.Split(c.Query("tables"), ",") {
		switch table := realtime.Table(strings.TrimSpace(name)); table {
		case realtime.TableIdeas, realtime.TableInfluenceScores, realtime.TableInvitations, realtime.TableUserStreaks:
			hub.AddChannel(client, realtime.TableChannel(table))
			subscribed = true
		}
	}
	if !subscribed {
		errors.Respond(c, errors.NewValidationError("sign in or pass ?tables= to subscribe"))
		return
	}

	channel := realtime.UserChannel(userID)
	if userID == "" {
		channel = "tables:" + c.Query("tables")
	}
	clients, _ := hub.Stats()["clients"].(int)
	s.app.Logger.FeedLogger("subscribe", channel, clients)
	hub.ServeHTTP(c.Writer, c.Request, client)
}

func (s *server) repairScores(c *gin.Context) {
	var req types.RepairRequest
	if !bind(c, &req, true) {
		return
	}
	report, err := s.app.Repairer.FixZeroScores(c.Request.Context(), ideas.RepairOptions{DryRun: req.DryRun, Limit: req.Limit})
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *server) setChallenge(c *gin.Context) {
	var challenge types.DailyChallenge
	if !bind(c, &challenge, false) {
		return
	}
	if err := s.app.Streaks.SetChallenge(c.Request.Context(), &challenge); err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusCreated, challenge)
}

func (s *server) backfillEmbeddings(c *gin.Context) {
	var req types.BackfillRequest
	if !bind(c, &req, true) {
		return
	}
	report, err := s.app.BackfillEmbeddings(c.Request.Context(), req)
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *server) recomputeInfluence(c *gin.Context) {
	n, err := s.app.Influence.RecomputeAll(c.Request.Context())
	if err != nil {
		errors.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": n})
}

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"campusvote/internal/auth"
	"campusvote/internal/election"
)

func (h *Handler) voterLogin(c *gin.Context) {
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
		Password  string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	v, err := h.svc.AuthenticateVoter(c.Request.Context(), req.StudentID, req.Password)
	if err != nil {
		if StatusFor(err) == http.StatusServiceUnavailable {
			h.fail(c, err)
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	tok, err := auth.Issue(v.ID, auth.RoleVoter, h.opts.JWTIssuer, h.opts.JWTSigningKey, h.opts.AccessTTL)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token": tok.AccessToken,
		"expires_at":   tok.ExpiresAt.Unix(),
		"voter":        v,
	})
}

func (h *Handler) me(c *gin.Context) {
	claims, _ := auth.ClaimsFrom(c)
	v, err := h.svc.GetVoter(c.Request.Context(), claims.Subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) createPosition(c *gin.Context) {
	var req struct {
		Name         string `json:"name" binding:"required"`
		VoteLimit    int    `json:"vote_limit"`
		DisplayOrder int    `json:"display_order"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.svc.CreatePosition(c.Request.Context(), election.PositionInput{
		Name:         req.Name,
		VoteLimit:    req.VoteLimit,
		DisplayOrder: req.DisplayOrder,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) listPositions(c *gin.Context) {
	list, err := h.svc.ListPositions(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": list})
}

func (h *Handler) deletePosition(c *gin.Context) {
	if err := h.svc.DeletePosition(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) createCandidate(c *gin.Context) {
	var req struct {
		Name         string  `json:"name" binding:"required"`
		PositionID   string  `json:"position_id" binding:"required"`
		Department   *string `json:"department"`
		Course       *string `json:"course"`
		PhotoURL     *string `json:"photo_url"`
		Description  *string `json:"description"`
		DisplayOrder int     `json:"display_order"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cand, err := h.svc.CreateCandidate(c.Request.Context(), election.CandidateInput{
		Name:         req.Name,
		PositionID:   req.PositionID,
		Department:   req.Department,
		Course:       req.Course,
		PhotoURL:     req.PhotoURL,
		Description:  req.Description,
		DisplayOrder: req.DisplayOrder,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cand)
}

func (h *Handler) listCandidates(c *gin.Context) {
	list, err := h.svc.ListCandidates(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": list})
}

func (h *Handler) deleteCandidate(c *gin.Context) {
	if err := h.svc.DeleteCandidate(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) registerVoter(c *gin.Context) {
	var req struct {
		Name       string  `json:"name" binding:"required"`
		Email      string  `json:"email" binding:"required"`
		StudentID  string  `json:"student_id" binding:"required"`
		Password   string  `json:"password"`
		Department *string `json:"department"`
		Course     *string `json:"course"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	v, err := h.svc.RegisterVoter(c.Request.Context(), election.VoterInput{
		Name:       req.Name,
		Email:      req.Email,
		StudentID:  req.StudentID,
		Password:   req.Password,
		Department: req.Department,
		Course:     req.Course,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

func (h *Handler) getVoter(c *gin.Context) {
	v, err := h.svc.GetVoter(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) createElection(c *gin.Context) {
	var req struct {
		Title       string    `json:"title" binding:"required"`
		Description string    `json:"description"`
		StartsAt    time.Time `json:"starts_at" binding:"required"`
		EndsAt      time.Time `json:"ends_at" binding:"required"`
		PositionIDs []string  `json:"position_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	view, err := h.svc.CreateElection(c.Request.Context(), election.NewElection{
		Title:       req.Title,
		Description: req.Description,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		CreatedBy:   claims.Subject,
		PositionIDs: req.PositionIDs,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *Handler) listElections(c *gin.Context) {
	list, err := h.svc.ListElections(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"elections": list})
}

func (h *Handler) getElection(c *gin.Context) {
	view, err := h.svc.GetElection(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) currentElection(c *gin.Context) {
	view, ok, err := h.svc.GetActiveElection(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"election": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"election": view})
}

func (h *Handler) transition(action election.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		override, _ := strconv.ParseBool(c.Query("override"))
		view, err := h.svc.Transition(c.Request.Context(), c.Param("id"), action, election.TransitionOptions{Override: override})
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func (h *Handler) attachPosition(c *gin.Context) {
	if err := h.svc.AttachPosition(c.Request.Context(), c.Param("id"), c.Param("positionId")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) detachPosition(c *gin.Context) {
	if err := h.svc.DetachPosition(c.Request.Context(), c.Param("id"), c.Param("positionId")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) attachCandidate(c *gin.Context) {
	if err := h.svc.AttachCandidate(c.Request.Context(), c.Param("id"), c.Param("candidateId")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) detachCandidate(c *gin.Context) {
	if err := h.svc.DetachCandidate(c.Request.Context(), c.Param("id"), c.Param("candidateId")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) assignments(c *gin.Context) {
	status, err := h.svc.ListAssignmentStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) castVote(c *gin.Context) {
	var req struct {
		PositionID  string `json:"position_id" binding:"required"`
		CandidateID string `json:"candidate_id" binding:"required"`
		Final       bool   `json:"final"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	vote, err := h.svc.CastVote(c.Request.Context(), election.CastVoteRequest{
		ElectionID:  c.Param("id"),
		VoterID:     claims.Subject,
		PositionID:  req.PositionID,
		CandidateID: req.CandidateID,
		Final:       req.Final,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, vote)
}

func (h *Handler) castBallot(c *gin.Context) {
	var req struct {
		Selections []election.Selection `json:"selections" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	claims, _ := auth.ClaimsFrom(c)
	votes, err := h.svc.CastBallot(c.Request.Context(), election.BallotRequest{
		ElectionID: c.Param("id"),
		VoterID:    claims.Subject,
		Selections: req.Selections,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"votes": votes})
}

// results serves the tally. Voters only see it once voting is closed for
// good; admins see it at any time.
func (h *Handler) results(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	claims, _ := auth.ClaimsFrom(c)
	if claims.Role != auth.RoleAdmin {
		view, err := h.svc.GetElection(ctx, id)
		if err != nil {
			h.fail(c, err)
			return
		}
		if view.Status != election.StatusStopped && view.Status != election.StatusEnded {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "results are published once voting has stopped", "code": "results_hidden"})
			return
		}
	}

	fresh, _ := strconv.ParseBool(c.Query("fresh"))
	if h.cache != nil && !fresh {
		t, ok, err := h.cache.Get(ctx, id)
		if err != nil {
			h.logger.Warn("tally cache read failed", zap.String("election_id", id), zap.Error(err))
		} else if ok {
			c.Header("X-Tally-Source", "cache")
			c.JSON(http.StatusOK, t)
			return
		}
	}

	t, err := h.svc.Tally(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if h.cache != nil {
		if err := h.cache.Put(ctx, t); err != nil {
			h.logger.Warn("tally cache write failed", zap.String("election_id", id), zap.Error(err))
		}
	}
	c.Header("X-Tally-Source", "ledger")
	c.JSON(http.StatusOK, t)
}

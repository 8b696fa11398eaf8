package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"campusvote/internal/election"
)

var statusByKind = []struct {
	err    error
	status int
}{
	{election.ErrInvalidInput, http.StatusBadRequest},
	{election.ErrVoterNotFound, http.StatusNotFound},
	{election.ErrNotFound, http.StatusNotFound},
	{election.ErrConflict, http.StatusConflict},
	{election.ErrAlreadyVoted, http.StatusConflict},
	{election.ErrDuplicateSelection, http.StatusConflict},
	{election.ErrInvalidState, http.StatusConflict},
	{election.ErrInvalidTransition, http.StatusConflict},
	{election.ErrPrerequisiteMissing, http.StatusUnprocessableEntity},
	{election.ErrNotOnBallot, http.StatusUnprocessableEntity},
	{election.ErrVotingClosed, http.StatusForbidden},
	{election.ErrTimeout, http.StatusServiceUnavailable},
	{election.ErrUnavailable, http.StatusServiceUnavailable},
}

// StatusFor maps a service error to an HTTP status.
func StatusFor(err error) int {
	for _, k := range statusByKind {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

func codeFor(err error) string {
	for _, k := range []struct {
		err  error
		code string
	}{
		{election.ErrInvalidInput, "invalid_input"},
		{election.ErrVoterNotFound, "voter_not_found"},
		{election.ErrNotFound, "not_found"},
		{election.ErrConflict, "conflict"},
		{election.ErrAlreadyVoted, "already_voted"},
		{election.ErrDuplicateSelection, "duplicate_selection"},
		{election.ErrInvalidState, "invalid_state"},
		{election.ErrInvalidTransition, "invalid_transition"},
		{election.ErrPrerequisiteMissing, "prerequisite_missing"},
		{election.ErrNotOnBallot, "not_on_ballot"},
		{election.ErrVotingClosed, "voting_closed"},
		{election.ErrTimeout, "timeout"},
		{election.ErrUnavailable, "unavailable"},
	} {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "internal"
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if election.Retryable(err) {
		c.Header("Retry-After", "1")
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":     msg,
		"code":      codeFor(err),
		"retryable": election.Retryable(err),
	})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_input"})
}

package election

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the engine's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	votes       *prometheus.CounterVec
	voteLatency prometheus.Histogram
	transitions *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "campusvote",
			Name:      "votes_total",
			Help:      "Vote attempts by outcome.",
		}, []string{"result"}),
		voteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "campusvote",
			Name:      "vote_duration_seconds",
			Help:      "Time spent casting a vote or ballot, including lock waits.",
			Buckets:   prometheus.DefBuckets,
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "campusvote",
			Name:      "election_transitions_total",
			Help:      "Committed election status transitions.",
		}, []string{"from", "to"}),
	}
	if reg != nil {
		reg.MustRegister(m.votes, m.voteLatency, m.transitions)
	}
	return m
}

func (m *Metrics) observeVote(start time.Time, n int, err error) {
	if m == nil {
		return
	}
	m.voteLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		m.votes.WithLabelValues(voteResult(err)).Inc()
		return
	}
	m.votes.WithLabelValues("ok").Add(float64(n))
}

func (m *Metrics) observeTransition(from, to Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func voteResult(err error) string {
	for _, k := range []struct {
		err   error
		label string
	}{
		{ErrAlreadyVoted, "already_voted"},
		{ErrDuplicateSelection, "duplicate_selection"},
		{ErrVotingClosed, "voting_closed"},
		{ErrNotOnBallot, "not_on_ballot"},
		{ErrVoterNotFound, "voter_not_found"},
		{ErrNotFound, "not_found"},
		{ErrTimeout, "timeout"},
		{ErrUnavailable, "unavailable"},
		{ErrInvalidInput, "invalid_input"},
	} {
		if errors.Is(err, k.err) {
			return k.label
		}
	}
	return "error"
}

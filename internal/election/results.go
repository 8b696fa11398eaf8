package election

import (
	"context"
	"sort"
)

// Tally counts the ledger for one election. Only positions and candidates on
// the ballot are reported; a position without votes reports 0% for everyone.
func (s *Service) Tally(ctx context.Context, electionID string) (Tally, error) {
	var t Tally
	err := s.view(ctx, func(ctx context.Context, tx Tx) error {
		e, err := tx.GetElection(ctx, electionID, LockNone)
		if err != nil {
			return err
		}
		posIDs, err := tx.ElectionPositionIDs(ctx, e.ID)
		if err != nil {
			return err
		}
		candIDs, err := tx.ElectionCandidateIDs(ctx, e.ID)
		if err != nil {
			return err
		}
		counts, err := tx.CountVotes(ctx, e.ID)
		if err != nil {
			return err
		}
		turnout, err := tx.CountVoters(ctx, e.ID)
		if err != nil {
			return err
		}

		positions := make([]Position, 0, len(posIDs))
		for _, id := range posIDs {
			p, err := tx.GetPosition(ctx, id)
			if err != nil {
				return err
			}
			positions = append(positions, p)
		}
		byPosition := make(map[string][]Candidate, len(positions))
		for _, id := range candIDs {
			c, err := tx.GetCandidate(ctx, id)
			if err != nil {
				return err
			}
			byPosition[c.PositionID] = append(byPosition[c.PositionID], c)
		}

		t = buildTally(e, positions, byPosition, counts)
		t.Turnout = turnout
		t.ComputedAt = s.now()
		return nil
	})
	return t, err
}

func buildTally(e Election, positions []Position, byPosition map[string][]Candidate, counts []VoteCount) Tally {
	type key struct{ position, candidate string }
	n := make(map[key]int, len(counts))
	for _, c := range counts {
		n[key{c.PositionID, c.CandidateID}] += c.Count
	}

	sort.SliceStable(positions, func(i, j int) bool {
		if positions[i].DisplayOrder != positions[j].DisplayOrder {
			return positions[i].DisplayOrder < positions[j].DisplayOrder
		}
		return positions[i].Name < positions[j].Name
	})

	t := Tally{ElectionID: e.ID, Status: e.Status, Positions: make([]PositionResult, 0, len(positions))}
	for _, p := range positions {
		cands := byPosition[p.ID]
		sort.SliceStable(cands, func(i, j int) bool {
			if cands[i].DisplayOrder != cands[j].DisplayOrder {
				return cands[i].DisplayOrder < cands[j].DisplayOrder
			}
			return cands[i].Name < cands[j].Name
		})

		pr := PositionResult{
			PositionID: p.ID,
			Name:       p.Name,
			VoteLimit:  p.VoteLimit,
			Candidates: make([]CandidateResult, 0, len(cands)),
			Winners:    []string{},
		}
		for _, c := range cands {
			pr.TotalVotes += n[key{p.ID, c.ID}]
		}
		best := 0
		for _, c := range cands {
			votes := n[key{p.ID, c.ID}]
			pct := 0.0
			if pr.TotalVotes > 0 {
				pct = float64(votes) * 100 / float64(pr.TotalVotes)
			}
			pr.Candidates = append(pr.Candidates, CandidateResult{
				CandidateID: c.ID,
				Name:        c.Name,
				Votes:       votes,
				Percentage:  pct,
			})
			if votes > best {
				best = votes
			}
		}
		if best > 0 {
			for _, c := range pr.Candidates {
				if c.Votes == best {
					pr.Winners = append(pr.Winners, c.CandidateID)
				}
			}
		}
		t.Positions = append(t.Positions, pr)
	}
	return t
}

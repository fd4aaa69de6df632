package httpapi

import (
	"github.com/park285/pvp-ladder/internal/domain"
	"github.com/park285/pvp-ladder/internal/pvp"
	"github.com/park285/pvp-ladder/internal/service/ladder"
	"github.com/park285/pvp-ladder/pkg/ladderdto"
)

func toRecord(r domain.PlayerRecord) ladderdto.PlayerRecord {
	return ladderdto.PlayerRecord{
		PlayerID:  r.PlayerID,
		Category:  r.Category.String(),
		Kills:     r.Kills,
		Deaths:    r.Deaths,
		Wins:      r.Wins,
		Losses:    r.Losses,
		Winstreak: r.Winstreak,
		Rating:    r.Rating,
		KD:        r.KD(),
	}
}

func toRecords(in []domain.PlayerRecord) []ladderdto.PlayerRecord {
	out := make([]ladderdto.PlayerRecord, 0, len(in))
	for _, r := range in {
		out = append(out, toRecord(r))
	}
	return out
}

func toAggregate(a domain.AggregateStats) ladderdto.AggregateStats {
	return ladderdto.AggregateStats{
		PlayerID:      a.PlayerID,
		Categories:    a.Categories,
		Kills:         a.Kills,
		Deaths:        a.Deaths,
		Wins:          a.Wins,
		Losses:        a.Losses,
		BestWinstreak: a.BestWinstreak,
		AverageRating: a.AverageRating,
		KD:            a.KD(),
	}
}

func toBan(b domain.BanEntry) ladderdto.Ban {
	return ladderdto.Ban{PlayerID: b.PlayerID, Reason: b.Reason, BannedAt: b.BannedAt}
}

func toBans(in []domain.BanEntry) []ladderdto.Ban {
	out := make([]ladderdto.Ban, 0, len(in))
	for _, b := range in {
		out = append(out, toBan(b))
	}
	return out
}

func toHistory(in []domain.HistoryEntry) []ladderdto.HistoryEntry {
	out := make([]ladderdto.HistoryEntry, 0, len(in))
	for _, h := range in {
		e := ladderdto.HistoryEntry{
			ID:        h.ID,
			PlayerID:  h.PlayerID,
			Action:    string(h.Action),
			Details:   h.Details,
			CreatedAt: h.CreatedAt,
		}
		if h.Category != nil {
			e.Category = h.Category.String()
		}
		out = append(out, e)
	}
	return out
}

func toOutcome(o domain.MatchOutcome) ladderdto.MatchOutcome {
	return ladderdto.MatchOutcome{
		Winner:     toRecord(o.Winner),
		Loser:      toRecord(o.Loser),
		Category:   o.Category.String(),
		KillMargin: o.KillMargin,
		WinnerGain: o.WinnerGain,
		LoserLoss:  o.LoserLoss,
		HistoryID:  o.HistoryID,
	}
}

func outcomeData(o *domain.MatchOutcome) map[string]any {
	return map[string]any{
		"WinnerID": o.Winner.PlayerID,
		"LoserID":  o.Loser.PlayerID,
		"Category": o.Category,
		"Gain":     o.WinnerGain,
		"Loss":     o.LoserLoss,
	}
}

func toDuel(s pvp.Session) ladderdto.Duel {
	return ladderdto.Duel{
		ID:           s.ID,
		ChallengerID: s.ChallengerID,
		OpponentID:   s.OpponentID,
		Category:     s.Category.String(),
		KillMargin:   s.KillMargin,
		State:        string(s.State),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		ExpiresAt:    s.ExpiresAt,
		WinnerID:     s.WinnerID,
		LoserID:      s.LoserID,
		WinnerGain:   s.WinnerGain,
		LoserLoss:    s.LoserLoss,
	}
}

func toLeaderboard(lb ladder.Leaderboard) ladderdto.LeaderboardResponse {
	var resp ladderdto.LeaderboardResponse
	if lb.Category != nil {
		resp.Category = lb.Category.String()
		resp.Records = make([]ladderdto.RankedRecord, 0, len(lb.Records))
		for i, r := range lb.Records {
			resp.Records = append(resp.Records, ladderdto.RankedRecord{Rank: i + 1, PlayerRecord: toRecord(r)})
		}
		return resp
	}
	resp.Overall = make([]ladderdto.OverallEntry, 0, len(lb.Overall))
	for i, e := range lb.Overall {
		resp.Overall = append(resp.Overall, ladderdto.OverallEntry{
			Rank:          i + 1,
			PlayerID:      e.PlayerID,
			AverageRating: e.AverageRating,
			Categories:    e.Categories,
		})
	}
	return resp
}

package httpapi

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/park285/pvp-ladder/internal/domain"
	"github.com/park285/pvp-ladder/internal/service/ladder"
	"github.com/park285/pvp-ladder/pkg/ladderdto"
)

const defaultKillMargin = 1

func decodeBody(rc *fasthttp.RequestCtx, v any) error {
	body := rc.PostBody()
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return domain.Errorf(domain.CodeInvalidArgument, "malformed JSON body: %v", err)
	}
	return nil
}

func requireActor(a ladder.Actor) error {
	if a.ID == 0 {
		return domain.Errorf(domain.CodeInvalidArgument, "%s header is required", HeaderActorID)
	}
	return nil
}

func requirePlayer(id int64, field string) error {
	if id <= 0 {
		return domain.Errorf(domain.CodeInvalidArgument, "%s must be a positive integer", field)
	}
	return nil
}

// categoryOrDefault treats an empty category as sword.
func categoryOrDefault(raw string) (domain.Category, error) {
	if strings.TrimSpace(raw) == "" {
		return domain.DefaultCategory, nil
	}
	return domain.ParseCategory(raw)
}

func optionalCategory(raw string) (*domain.Category, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	cat, err := domain.ParseCategory(raw)
	if err != nil {
		return nil, err
	}
	return &cat, nil
}

func killsOrDefault(k *int) int {
	if k == nil {
		return defaultKillMargin
	}
	return *k
}

func queryInt64(rc *fasthttp.RequestCtx, key string) (*int64, error) {
	raw := strings.TrimSpace(string(rc.QueryArgs().Peek(key)))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, domain.Errorf(domain.CodeInvalidArgument, "%s must be an integer", key)
	}
	return &v, nil
}

func queryLimit(rc *fasthttp.RequestCtx) (int, error) {
	v, err := queryInt64(rc, "limit")
	if err != nil || v == nil {
		return 0, err
	}
	if *v < 0 {
		return 0, domain.Errorf(domain.CodeInvalidArgument, "limit must not be negative")
	}
	return int(*v), nil
}

func (s *Server) render(key string, data map[string]any) string {
	return s.opts.Catalog.MustRender(key, data, "")
}

func (s *Server) register(ctx context.Context, rc *fasthttp.RequestCtx, actor ladder.Actor) (any, error) {
	var req ladderdto.PlayerRequest
	if err := decodeBody(rc, &req); err != nil {
		return nil, err
	}
	if req.PlayerID == 0 {
		req.PlayerID = actor.ID
	}
	if err := requirePlayer(req.PlayerID, "player_id"); err != nil {
		return nil, err
	}
	recs, err := s.svc.Register(ctx, actor, req.PlayerID)
	if err != nil {
		return nil, err
	}
	return ladderdto.RegisterResponse{
		Records: toRecords(recs),
		Message: s.render("ladder.registered", map[string]any{"PlayerID": req.PlayerID}),
	}, nil
}

func (s *Server) remove(ctx context.Context, rc *fasthttp.RequestCtx, actor ladder.Actor) (any, error) {
	var req ladderdto.PlayerRequest
	if err := decodeBody(rc, &req); err != nil {
		return nil, err
	}
	if err := requirePlayer(req.PlayerID, "player_id"); err != nil {
		return nil, err
	}
	n, err := s.svc.Remove(ctx, actor, req.PlayerID)
	if err != nil {
		return nil, err
	}
	return ladderdto.RemoveResponse{
		Removed: n,
		Message: s.render("ladder.removed", map[string]any{"PlayerID": req.PlayerID}),
	}, nil
}

func (s *Server) listBans(ctx context.Context, _ *fasthttp.RequestCtx, actor ladder.Actor) (any, error) {
	bans, err := s.svc.ListBans(ctx, actor)
	if err != nil {
		return nil, err
	}
	resp := ladderdto.BansResponse{Bans: toBans(bans)}
	if len(bans) == 0 {
		resp.Message = s.render("ladder.no_bans", nil)
	}
	return resp, nil
}

func (s *Server) ban(ctx context.Context, rc *fasthttp.RequestCtx, actor ladder.Actor) (any, error) {
	var req ladderdto.BanRequest
	if err := decodeBody(rc, &req); err != nil {
		return nil, err
	}
	if err := requirePlayer(req.PlayerID, "player_id"); err != nil {
		return nil, err
	}
	b, err := s.svc.Ban(ctx, actor, req.PlayerID, req.Reason)
	if err != nil {
		return nil, err
	}
	dto := toBan(*b)
	return ladderdto.BanResponse{
		Ban:     &dto,
		Message: s.render("ladder.banned", map[string]any{"PlayerID": b.PlayerID, "Reason": b.Reason}),
	}, nil
}

func (s *Server) unban(ctx context.Context, rc *fasthttp.RequestCtx, actor ladder.Actor) (any, error) {
	var req ladderdto.PlayerRequest
	if err := decodeBody(rc, &req); err != nil {
		return nil, err
	}
	if err := requirePlayer(req.PlayerID, "player_id"); err != nil {
		return nil, err
	}
	if err := s.svc.Unban(ctx, actor, req.PlayerID); err != nil {
		return nil, err
	}
	return ladderdto.BanResponse{
		Message: s.render("ladder.unbanned", map[string]any{"PlayerID": req.PlayerID}),
	}, nil
}

func (s *Server) editStats(ctx context.Context, rc *fasthttp.RequestCtx, actor ladder.Actor) (any, error) {
	var req ladderdto.EditStatsRequest
	if err := decodeBody(rc, &req); err != nil {
		return nil, err
	}
	if err := requirePlayer(req.PlayerID, "player_id"); err != nil {
		return nil, err
	}
	cat, err := domain.ParseCategory(req.Category)
	if err != nil {
		return nil, err
	}
	patch := domain.StatsPatch{
		Kills:     req.Kills,
		Deaths:    req.Deaths,
		Wins:      req.Wins,
		Losses:    req.Losses,
		Winstreak: req.Winstreak,
		Rating:    req.Rating,
	}
	rec, err := s.svc.EditStats(ctx, actor, req.PlayerID, cat, patch)
	if err != nil {
		return nil, err
	}
	return ladderdto.RecordResponse{
		Record:  toRecord(*rec),
		Message: s.render("ladder.edited", map[string]any{"PlayerID": req.PlayerID, "Category": cat}),
	}, nil
}

func (s *Server) resetStats(ctx context.Context, rc *fasthttp.RequestCtx, actor ladder.Actor) (any, error) {
	var req ladderdto.ResetStatsRequest
	if err := decodeBody(rc, &req); err != nil {
		return nil, err
	}
	if err := requirePlayer(req.PlayerID, "player_id"); err != nil {
		return nil, err
	}
	cat, err := domain.ParseCategory(req.Category)
	if err != nil {
		return nil, err
	}
	rec, err := s.svc.ResetStats(ctx, actor, req.PlayerID, cat)
	if err != nil {
		return nil, err
	}
	return ladderdto.RecordResponse{
		Record:  toRecord(*rec),
		Message: s.render("ladder.reset", map[string]any{"PlayerID": req.PlayerID, "Category": cat}),
	}, nil
}

func (s *Server) reportMatch(ctx context.Context, rc *fasthttp.RequestCtx, actor ladder.Actor) (any, error) {
	var req ladderdto.ReportMatchRequest
	if err := decodeBody(rc, &req); err != nil {
		return nil, err
	}
	if !actor.Admin {
		if err := requireActor(actor); err != nil {
			return nil, err
		}
	}
	if err := requirePlayer(req.WinnerID, "winner_id"); err != nil {
		return nil, err
	}
	if err := requirePlayer(req.LoserID, "loser_id"); err != nil {
		return nil, err
	}
	cat, err := categoryOrDefault(req.Category)
	if err != nil {
		return nil, err
	}
	out, err := s.svc.ReportMatch(ctx, actor, req.WinnerID, req.LoserID, cat, killsOrDefault(req.Kills))
	if err != nil {
		return nil, err
	}
	return ladderdto.MatchResponse{
		Outcome: toOutcome(*out),
		Message: s.render("ladder.match", outcomeData(out)),
	}, nil
}

func (s *Server) proposeDuel(ctx context.Context, rc *fasthttp.RequestCtx, actor ladder.Actor) (any, error) {
	var req ladderdto.ProposeDuelRequest
	if err := decodeBody(rc, &req); err != nil {
		return nil, err
	}
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := requirePlayer(req.OpponentID, "opponent_id"); err != nil {
		return nil, err
	}
	cat, err := categoryOrDefault(req.Category)
	if err != nil {
		return nil, err
	}
	sess, err := s.svc.ProposeDuel(ctx, actor, req.OpponentID, cat, killsOrDefault(req.Kills))
	if err != nil {
		return nil, err
	}
	return ladderdto.DuelResponse{
		Duel:    toDuel(sess),
		Message: s.render("duel.proposed", map[string]any{"OpponentID": sess.OpponentID}),
	}, nil
}

func (s *Server) pendingDuels(ctx context.Context, rc *fasthttp.RequestCtx, actor ladder.Actor) (any, error) {
	playerID, err := queryInt64(rc, "player_id")
	if err != nil {
		return nil, err
	}
	id := actor.ID
	if playerID != nil {
		id = *playerID
	}
	if err := requirePlayer(id, "player_id"); err != nil {
		return nil, err
	}
	list, err := s.svc.PendingDuels(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]ladderdto.Duel, 0, len(list))
	for _, d := range list {
		out = append(out, toDuel(d))
	}
	return out, nil
}

func (s *Server) getDuel(id string) handlerFunc {
	return func(ctx context.Context, _ *fasthttp.RequestCtx, _ ladder.Actor) (any, error) {
		sess, err := s.svc.GetDuel(ctx, id)
		if err != nil {
			return nil, err
		}
		return ladderdto.DuelResponse{Duel: toDuel(sess)}, nil
	}
}

func (s *Server) respondDuel(id string) handlerFunc {
	return func(ctx context.Context, rc *fasthttp.RequestCtx, actor ladder.Actor) (any, error) {
		var req ladderdto.RespondDuelRequest
		if err := decodeBody(rc, &req); err != nil {
			return nil, err
		}
		if err := requireActor(actor); err != nil {
			return nil, err
		}
		sess, err := s.svc.RespondDuel(ctx, actor, id, req.Accept)
		if err != nil {
			return nil, err
		}
		data := map[string]any{"ChallengerID": sess.ChallengerID, "OpponentID": sess.OpponentID}
		key := "duel.declined"
		if req.Accept {
			key = "duel.accepted"
		}
		return ladderdto.DuelResponse{Duel: toDuel(sess), Message: s.render(key, data)}, nil
	}
}

func (s *Server) resolveDuel(id string) handlerFunc {
	return func(ctx context.Context, rc *fasthttp.RequestCtx, actor ladder.Actor) (any, error) {
		var req ladderdto.ResolveDuelRequest
		if err := decodeBody(rc, &req); err != nil {
			return nil, err
		}
		if !actor.Admin {
			if err := requireActor(actor); err != nil {
				return nil, err
			}
		}
		sess, out, err := s.svc.ResolveDuel(ctx, actor, id, req.WinnerIsChallenger)
		if err != nil {
			return nil, err
		}
		dto := toOutcome(*out)
		return ladderdto.DuelResponse{
			Duel:    toDuel(sess),
			Outcome: &dto,
			Message: s.render("duel.settled", outcomeData(out)),
		}, nil
	}
}

func (s *Server) stats(ctx context.Context, rc *fasthttp.RequestCtx, actor ladder.Actor) (any, error) {
	playerID, err := queryInt64(rc, "player_id")
	if err != nil {
		return nil, err
	}
	id := actor.ID
	if playerID != nil {
		id = *playerID
	}
	if err := requirePlayer(id, "player_id"); err != nil {
		return nil, err
	}
	cat, err := optionalCategory(string(rc.QueryArgs().Peek("category")))
	if err != nil {
		return nil, err
	}
	st, err := s.svc.GetStats(ctx, id, cat)
	if err != nil {
		return nil, err
	}
	var resp ladderdto.StatsResponse
	if st.Record != nil {
		rec := toRecord(*st.Record)
		resp.Record = &rec
	}
	if st.Aggregate != nil {
		agg := toAggregate(*st.Aggregate)
		resp.Aggregate = &agg
	}
	return resp, nil
}

func (s *Server) leaderboard(ctx context.Context, rc *fasthttp.RequestCtx, _ ladder.Actor) (any, error) {
	cat, err := optionalCategory(string(rc.QueryArgs().Peek("category")))
	if err != nil {
		return nil, err
	}
	limit, err := queryLimit(rc)
	if err != nil {
		return nil, err
	}
	lb, err := s.svc.GetLeaderboard(ctx, cat, limit)
	if err != nil {
		return nil, err
	}
	return toLeaderboard(lb), nil
}

func (s *Server) history(ctx context.Context, rc *fasthttp.RequestCtx, _ ladder.Actor) (any, error) {
	playerID, err := queryInt64(rc, "player_id")
	if err != nil {
		return nil, err
	}
	cat, err := optionalCategory(string(rc.QueryArgs().Peek("category")))
	if err != nil {
		return nil, err
	}
	limit, err := queryLimit(rc)
	if err != nil {
		return nil, err
	}
	hist, err := s.svc.GetHistory(ctx, playerID, cat, limit)
	if err != nil {
		return nil, err
	}
	resp := ladderdto.HistoryResponse{Entries: toHistory(hist)}
	if len(hist) == 0 {
		resp.Message = s.render("ladder.no_history", nil)
	}
	return resp, nil
}

func (s *Server) wipe(ctx context.Context, _ *fasthttp.RequestCtx, actor ladder.Actor) (any, error) {
	n, err := s.svc.Wipe(ctx, actor)
	if err != nil {
		return nil, err
	}
	return ladderdto.WipeResponse{
		Removed: n,
		Message: s.render("ladder.wiped", map[string]any{"Count": n}),
	}, nil
}

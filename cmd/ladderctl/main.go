// Command ladderctl moves snapshots in and out of the ladder database and
// queries a running server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/park285/pvp-ladder/internal/apiclient"
	appcfg "github.com/park285/pvp-ladder/internal/config"
	"github.com/park285/pvp-ladder/internal/obslog"
	"github.com/park285/pvp-ladder/internal/snapshot"
	"github.com/park285/pvp-ladder/internal/storage"
	"github.com/park285/pvp-ladder/pkg/ladderdto"
)

const usage = `usage: ladderctl <command> [flags]

offline (opens the database directly):
  export       write players.json and bans.json
  import       load players.json and bans.json

remote (talks to a running server):
  health
  leaderboard  [--category c] [--limit n]
  stats        --player id [--category c]
  history      [--player id] [--category c] [--limit n]
  report       --winner id --loser id [--category c] [--kills n]
  ban          --player id [--reason text]
  unban        --player id
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "export", "import":
		err = runSnapshot(cmd, args)
	case "health", "leaderboard", "stats", "history", "report", "ban", "unban":
		err = runRemote(cmd, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		var derr ladderdto.DomainError
		if errors.As(err, &derr) {
			fmt.Fprintf(os.Stderr, "%s (%s)\n", derr.Message, derr.Code)
		} else {
			fmt.Fprintf(os.Stderr, "ladderctl %s: %v\n", cmd, err)
		}
		os.Exit(1)
	}
}

func runSnapshot(cmd string, args []string) error {
	fs := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to a YAML config file")
	dir := fs.String("dir", "", "snapshot directory (defaults to SNAPSHOT_DIR)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := appcfg.Load(*configPath)
	if err != nil {
		return err
	}
	if *dir != "" {
		cfg.SnapshotDir = *dir
	}
	logger, err := obslog.Init(obslog.Options{Level: cfg.Log.Level, Format: "console", ToConsole: true})
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	snap := snapshot.New(cfg.SnapshotDir, store, logger)

	if cmd == "export" {
		if err := snap.Export(ctx); err != nil {
			return err
		}
		fmt.Printf("exported snapshot to %s\n", snap.Dir())
		return nil
	}
	res, err := snap.Import(ctx)
	fmt.Printf("imported %d players, %d bans (%d skipped) from %s\n", res.Players, res.Bans, res.Skipped, snap.Dir())
	return err
}

func runRemote(cmd string, args []string) error {
	fs := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	server := fs.String("server", envOr("LADDER_SERVER", "http://localhost:8080"), "ladder server base URL")
	actor := fs.Int64("actor", 0, "acting player id (X-Actor-Id)")
	token := fs.String("admin-token", os.Getenv("ADMIN_TOKEN"), "admin token (X-Admin-Token)")
	player := fs.Int64("player", 0, "player id")
	winner := fs.Int64("winner", 0, "winner id")
	loser := fs.Int64("loser", 0, "loser id")
	category := fs.String("category", "", "sword, axe, mace, crystal or uhc")
	kills := fs.Int("kills", 1, "kill margin")
	limit := fs.Int("limit", 0, "maximum rows")
	reason := fs.String("reason", "", "ban reason")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if cmd == "report" && *actor == 0 {
		*actor = *winner
	}
	client := apiclient.New(*server,
		apiclient.WithActor(*actor),
		apiclient.WithAdminToken(*token),
		apiclient.WithTimeout(*timeout),
	)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch cmd {
	case "health":
		if err := client.Health(ctx); err != nil {
			return err
		}
		fmt.Println("ok")
	case "leaderboard":
		lb, err := client.Leaderboard(ctx, *category, *limit)
		if err != nil {
			return err
		}
		printLeaderboard(lb)
	case "stats":
		st, err := client.Stats(ctx, *player, *category)
		if err != nil {
			return err
		}
		printStats(st)
	case "history":
		hist, err := client.History(ctx, *player, *category, *limit)
		if err != nil {
			return err
		}
		if len(hist.Entries) == 0 {
			fmt.Println(hist.Message)
		}
		for _, e := range hist.Entries {
			fmt.Printf("#%d %s %-12s %s\n", e.ID, e.CreatedAt.Format(time.RFC3339), e.Action, e.Details)
		}
	case "report":
		m, err := client.ReportMatch(ctx, ladderdto.ReportMatchRequest{WinnerID: *winner, LoserID: *loser, Category: *category, Kills: kills})
		if err != nil {
			return err
		}
		fmt.Println(m.Message)
	case "ban":
		b, err := client.Ban(ctx, *player, *reason)
		if err != nil {
			return err
		}
		fmt.Println(b.Message)
	case "unban":
		b, err := client.Unban(ctx, *player)
		if err != nil {
			return err
		}
		fmt.Println(b.Message)
	}
	return nil
}

func printLeaderboard(lb *ladderdto.LeaderboardResponse) {
	if lb.Category == "" {
		fmt.Println("Overall Leaderboard")
		for _, e := range lb.Overall {
			fmt.Printf("%2d. <@%d>  %.1f ELO avg (%d categories)\n", e.Rank, e.PlayerID, e.AverageRating, e.Categories)
		}
		return
	}
	fmt.Printf("%s Leaderboard\n", strings.ToUpper(lb.Category))
	for _, r := range lb.Records {
		fmt.Printf("%2d. <@%d>  %d ELO  %dW/%dL  KD %.2f\n", r.Rank, r.PlayerID, r.Rating, r.Wins, r.Losses, r.KD)
	}
}

func printStats(st *ladderdto.StatsResponse) {
	if r := st.Record; r != nil {
		fmt.Printf("%s stats for <@%d>\n", strings.ToUpper(r.Category), r.PlayerID)
		fmt.Printf("ELO %d  Wins %d  Losses %d  Kills %d  Deaths %d  KD %.2f  Winstreak %d\n",
			r.Rating, r.Wins, r.Losses, r.Kills, r.Deaths, r.KD, r.Winstreak)
		return
	}
	if a := st.Aggregate; a != nil {
		fmt.Printf("Overall stats for <@%d> (%d categories)\n", a.PlayerID, a.Categories)
		fmt.Printf("Avg ELO %.1f  Wins %d  Losses %d  Kills %d  Deaths %d  KD %.2f  Best streak %d\n",
			a.AverageRating, a.Wins, a.Losses, a.Kills, a.Deaths, a.KD, a.BestWinstreak)
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cluesolver/clue-server-go/internal/config"
	"github.com/cluesolver/clue-server-go/internal/history"
	"github.com/cluesolver/clue-server-go/internal/solver"
)

var errNoGame = errors.New("--game is required for this command")

// app holds the state shared by every command.
type app struct {
	configPath string
	session    string
	gameID     string
	historyDir string
	debug      bool

	cfg    *config.Config
	logger *zap.Logger
	svc    *solver.Service
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:          "cluesolver",
		Short:        "Deduce where the Clue cards are",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				a.logger.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to configuration file")
	flags.StringVarP(&a.session, "sess", "s", "", "session string of the game")
	flags.StringVarP(&a.gameID, "game", "g", "", "name of a locally saved game")
	flags.StringVar(&a.historyDir, "history-dir", "", "directory for saved games (default from config)")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		a.newCmd(),
		a.learnCmd(),
		a.oneOfCmd(),
		a.suggestCmd(),
		a.whoCmd(),
		a.simulateCmd(),
		a.deduceCmd(),
		a.verifyCmd(),
		a.stepCmd(solver.ActionUndo, "Step back one action in a saved game"),
		a.stepCmd(solver.ActionRedo, "Reapply an undone action in a saved game"),
		a.historyCmd(),
	)
	return rootCmd
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	if a.historyDir == "" {
		a.historyDir = cfg.Storage.HistoryDir
	}

	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if a.debug {
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	zapCfg.OutputPaths = []string{"stderr"}
	if a.logger, err = zapCfg.Build(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.svc = solver.NewService(nil, cfg.Simulation, a.logger)
	return nil
}

// run executes req against the session flag or the saved game and prints
// the response. Actions that add facts are recorded in the saved game.
func (a *app) run(cmd *cobra.Command, req *solver.Request, detail string) error {
	var hist *history.History
	if a.gameID != "" {
		if req.Action == solver.ActionNew {
			hist = history.New(a.gameID)
		} else {
			h, err := history.LoadFromFile(a.historyDir, a.gameID)
			if err != nil {
				return fmt.Errorf("failed to load game %s: %w", a.gameID, err)
			}
			cur, ok := h.Current()
			if !ok {
				return fmt.Errorf("game %s has no history", a.gameID)
			}
			hist = h
			req.Session = cur.Session
		}
	} else {
		req.Session = a.session
	}

	resp, err := a.svc.Do(cmd.Context(), req)
	if resp == nil {
		return err
	}
	if hist != nil && records(req) {
		hist.Record(history.Entry{Action: req.Action, Detail: detail, Session: resp.Session})
		if saveErr := hist.SaveToFile(a.historyDir); saveErr != nil {
			return saveErr
		}
		a.logger.Debug("game saved", zap.String("game", a.gameID), zap.Int("entries", hist.Size()))
	}
	if printErr := a.print(cmd, resp); printErr != nil {
		return printErr
	}
	return err
}

func records(req *solver.Request) bool {
	switch req.Action {
	case solver.ActionNew, solver.ActionWhoOwns, solver.ActionOneOf, solver.ActionSuggestion:
		return true
	case solver.ActionDeduce:
		return req.Apply
	}
	return false
}

func (a *app) print(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) newCmd() *cobra.Command {
	var (
		players  int
		numCards []int
	)
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a game",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &solver.Request{Action: solver.ActionNew, Players: players, Capacities: numCards}
			return a.run(cmd, req, fmt.Sprintf("%d players", players))
		},
	}
	cmd.Flags().IntVarP(&players, "players", "p", 0, "number of players")
	cmd.Flags().IntSliceVar(&numCards, "num-cards", nil, "cards held by each player, 0 when unknown")
	cmd.MarkFlagRequired("players")
	return cmd
}

func (a *app) learnCmd() *cobra.Command {
	var (
		player  int
		card    string
		notHave bool
	)
	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Record that a player has or lacks a card",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			has := !notHave
			req := &solver.Request{Action: solver.ActionWhoOwns, Owner: &player, Card: card, HasCard: &has}
			verb := "has"
			if notHave {
				verb = "does not have"
			}
			return a.run(cmd, req, fmt.Sprintf("player %d %s %s", player, verb, card))
		},
	}
	cmd.Flags().IntVar(&player, "player", 0, "player index; the case file is the last index")
	cmd.Flags().StringVar(&card, "card", "", "card name")
	cmd.Flags().BoolVar(&notHave, "not", false, "the player does not have the card")
	cmd.MarkFlagRequired("player")
	cmd.MarkFlagRequired("card")
	return cmd
}

func (a *app) oneOfCmd() *cobra.Command {
	var (
		player int
		cards  []string
	)
	cmd := &cobra.Command{
		Use:   "oneof",
		Short: "Record that a player has at least one of some cards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &solver.Request{Action: solver.ActionOneOf, Owner: &player, Cards: cards}
			return a.run(cmd, req, fmt.Sprintf("player %d has one of %s", player, strings.Join(cards, ", ")))
		},
	}
	cmd.Flags().IntVar(&player, "player", 0, "player index")
	cmd.Flags().StringSliceVar(&cards, "cards", nil, "candidate cards")
	cmd.MarkFlagRequired("player")
	cmd.MarkFlagRequired("cards")
	return cmd
}

func (a *app) suggestCmd() *cobra.Command {
	var (
		suggester int
		cards     []string
		refuter   int
		shown     string
	)
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Record a suggestion and who refuted it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(cards) != 3 {
				return fmt.Errorf("a suggestion names 3 cards, got %d", len(cards))
			}
			req := &solver.Request{
				Action:       solver.ActionSuggestion,
				Suggester:    &suggester,
				Card1:        cards[0],
				Card2:        cards[1],
				Card3:        cards[2],
				Refuter:      &refuter,
				RefutingCard: shown,
			}
			detail := fmt.Sprintf("player %d suggested %s", suggester, strings.Join(cards, ", "))
			return a.run(cmd, req, detail)
		},
	}
	cmd.Flags().IntVar(&suggester, "suggester", 0, "player who made the suggestion")
	cmd.Flags().StringSliceVar(&cards, "cards", nil, "suspect, weapon and room")
	cmd.Flags().IntVar(&refuter, "refuter", -1, "player who refuted, -1 for nobody")
	cmd.Flags().StringVar(&shown, "shown", solver.NoRefutingCard, "card that was shown, if seen")
	cmd.MarkFlagRequired("suggester")
	cmd.MarkFlagRequired("cards")
	return cmd
}

func (a *app) whoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "who",
		Short: "Show what is known about every card",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, &solver.Request{Action: solver.ActionState}, "")
		},
	}
}

func (a *app) simulateCmd() *cobra.Command {
	var (
		trials int
		seed   uint64
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Estimate ownership probabilities by random deals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, &solver.Request{Action: solver.ActionSimulate, Trials: trials, Seed: seed}, "")
		},
	}
	cmd.Flags().IntVar(&trials, "trials", 0, "trials per candidate solution (default from config)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed, 0 for a random one")
	return cmd
}

func (a *app) deduceCmd() *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "deduce",
		Short: "List every fact implied by the beliefs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, &solver.Request{Action: solver.ActionDeduce, Apply: apply}, "applied exact deductions")
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "add the deductions to the game")
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that some deal matches the beliefs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, &solver.Request{Action: solver.ActionVerify}, "")
		},
	}
}

func (a *app) stepCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.gameID == "" {
				return errNoGame
			}
			h, err := history.LoadFromFile(a.historyDir, a.gameID)
			if err != nil {
				return fmt.Errorf("failed to load game %s: %w", a.gameID, err)
			}

			var ok bool
			if action == solver.ActionUndo {
				_, ok = h.Undo()
			} else {
				_, ok = h.Redo()
			}
			if !ok {
				return solver.ErrNothingToUndo
			}
			if err := h.SaveToFile(a.historyDir); err != nil {
				return err
			}
			return a.run(cmd, &solver.Request{Action: solver.ActionState}, "")
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List the actions of a saved game",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.gameID == "" {
				return errNoGame
			}
			h, err := history.LoadFromFile(a.historyDir, a.gameID)
			if err != nil {
				return fmt.Errorf("failed to load game %s: %w", a.gameID, err)
			}
			entries, cursor := h.Snapshot()
			return a.print(cmd, struct {
				Game    string          `json:"game"`
				Cursor  int             `json:"cursor"`
				History []history.Entry `json:"history"`
			}{a.gameID, cursor, entries})
		},
	}
}

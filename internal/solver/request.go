package solver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Actions understood by Service.Do.
const (
	ActionNew        = "new"
	ActionWhoOwns    = "whoOwns"
	ActionOneOf      = "oneOf"
	ActionSuggestion = "suggestion"
	ActionState      = "state"
	ActionSimulate   = "simulate"
	ActionDeduce     = "deduce"
	ActionVerify     = "verify"
	ActionUndo       = "undo"
	ActionRedo       = "redo"
	ActionHistory    = "history"
	ActionDelete     = "delete"
)

// NoRefutingCard is the value clients send when the refuting card was not
// seen.
const NoRefutingCard = "None"

// Request is one solver action. A game is addressed either by its session
// string (stateless) or by the id of a stored game.
type Request struct {
	Action  string `json:"action" validate:"required,oneof=new whoOwns oneOf suggestion state simulate deduce verify undo redo history delete"`
	GameID  string `json:"gameId,omitempty" validate:"omitempty,uuid"`
	Session string `json:"sess,omitempty" validate:"omitempty,max=4096"`

	// new
	Players    int   `json:"players,omitempty" validate:"omitempty,min=1,max=9"`
	Capacities []int `json:"numCards,omitempty" validate:"omitempty,max=10,dive,min=0,max=9"`
	Persist    bool  `json:"persist,omitempty"`

	// whoOwns, oneOf
	Owner   *int     `json:"owner,omitempty" validate:"omitempty,min=0,max=9"`
	Card    string   `json:"card,omitempty" validate:"omitempty,max=64"`
	HasCard *bool    `json:"hasCard,omitempty"`
	Cards   []string `json:"cards,omitempty" validate:"omitempty,max=52,dive,required,max=64"`

	// suggestion
	Suggester    *int   `json:"suggestingPlayer,omitempty" validate:"omitempty,min=0,max=8"`
	Card1        string `json:"card1,omitempty" validate:"omitempty,max=64"`
	Card2        string `json:"card2,omitempty" validate:"omitempty,max=64"`
	Card3        string `json:"card3,omitempty" validate:"omitempty,max=64"`
	Refuter      *int   `json:"refutingPlayer,omitempty" validate:"omitempty,min=-1,max=8"`
	RefutingCard string `json:"refutingCard,omitempty" validate:"omitempty,max=64"`

	// simulate
	Trials int    `json:"trials,omitempty" validate:"omitempty,min=1,max=100000"`
	Seed   uint64 `json:"seed,omitempty"`

	// deduce
	Apply bool `json:"apply,omitempty"`
}

// ErrInvalidRequest wraps every request that fails validation.
var ErrInvalidRequest = errors.New("invalid request")

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateAction, Request{})
	return v
}

// validateAction checks the fields each action needs.
func validateAction(sl validator.StructLevel) {
	r := sl.Current().Interface().(Request)
	missing := func(value interface{}, field string) {
		sl.ReportError(value, field, field, "required", "")
	}

	switch r.Action {
	case ActionNew:
		if r.Players == 0 {
			missing(r.Players, "Players")
		}
		return
	case ActionWhoOwns:
		if r.Owner == nil {
			missing(r.Owner, "Owner")
		}
		if r.Card == "" {
			missing(r.Card, "Card")
		}
	case ActionOneOf:
		if r.Owner == nil {
			missing(r.Owner, "Owner")
		}
		if len(r.Cards) == 0 {
			missing(r.Cards, "Cards")
		}
	case ActionSuggestion:
		if r.Suggester == nil {
			missing(r.Suggester, "Suggester")
		}
		for i, c := range []string{r.Card1, r.Card2, r.Card3} {
			if c == "" {
				missing(c, fmt.Sprintf("Card%d", i+1))
			}
		}
	case ActionUndo, ActionRedo, ActionHistory, ActionDelete:
		if r.GameID == "" {
			missing(r.GameID, "GameID")
		}
		return
	}

	if r.GameID == "" && r.Session == "" {
		missing(r.Session, "Session")
	}
}

// invalid turns validator output into an ErrInvalidRequest.
func invalid(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}

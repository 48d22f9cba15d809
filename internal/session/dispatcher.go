package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/bingo-client/internal/engine"
	"github.com/DoyleJ11/bingo-client/internal/types"
)

type IntentKind string

const (
	IntentSelectNumber IntentKind = "select_number"
	IntentClaimBingo   IntentKind = "claim_bingo"
)

// Intent is a user action checked against the current state inside the loop.
type Intent struct {
	Kind   IntentKind
	Number int
	Reply  chan error
}

func (Intent) isSessionMsg() {}

// SelectNumber asks the server to mark n. The card is only updated when the
// number_selected acknowledgment arrives.
func (s *Session) SelectNumber(ctx context.Context, n int) error {
	return s.request(ctx, Intent{Kind: IntentSelectNumber, Number: n})
}

// ClaimBingo asks the server to validate the card. The result arrives as a
// bingo_claimed event.
func (s *Session) ClaimBingo(ctx context.Context) error {
	return s.request(ctx, Intent{Kind: IntentClaimBingo})
}

func (s *Session) request(ctx context.Context, in Intent) error {
	in.Reply = make(chan error, 1)
	if err := s.send(ctx, in); err != nil {
		return err
	}
	select {
	case err := <-in.Reply:
		return err
	case <-s.done:
		select {
		case err := <-in.Reply:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch runs on the loop goroutine.
func (s *Session) dispatch(in Intent) error {
	if s.frozen {
		return ErrFrozen
	}

	switch in.Kind {
	case IntentSelectNumber:
		if err := engine.CanSelect(s.state, in.Number); err != nil {
			s.log.Debug("selection refused locally", zap.Int("number", in.Number), zap.Error(err))
			return err
		}
		s.transport.Send(types.SelectNumber(in.Number))

	case IntentClaimBingo:
		if err := engine.CanClaim(s.state); err != nil {
			s.log.Debug("claim refused locally", zap.Error(err))
			return err
		}
		s.transport.Send(types.ClaimBingo())
		s.log.Info("bingo claimed, waiting for server")

	default:
		return fmt.Errorf("unknown intent %q", in.Kind)
	}
	return nil
}

package websocket

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/johndosdos/roomchat/internal/model"
)

var errRateLimited = errors.New("too many messages, slow down")

// ReadMessage reads client frames and publishes them until the connection
// ends. Bad frames are answered with an error frame and do not end the
// session. The session is closed on return.
func (s *Session) ReadMessage(ctx context.Context) {
	defer s.Close()

	for {
		p, err := s.transport.Receive(ctx)
		if err != nil {
			if !isExpectedClose(err) && s.State() != StateClosed {
				s.logger(ctx).Warn().Err(err).Msg("failed to read frame")
			}
			return
		}

		var in model.Inbound
		if err := json.Unmarshal(p, &in); err != nil {
			s.logger(ctx).Debug().Err(err).Msg("failed to decode client frame")
			s.sendError(model.MalformedError("invalid JSON"), model.CodeMalformed)
			continue
		}

		if s.limiter != nil && !s.limiter.Allow() {
			s.sendError(errRateLimited, model.CodeRateLimited)
			continue
		}

		if err := s.OnClientMessage(ctx, in); err != nil {
			if errors.Is(err, ErrNotConnected) {
				return
			}
			s.logger(ctx).Info().Err(err).Msg("client message rejected")
			switch code := model.ErrorCode(err); code {
			case model.CodeStorage:
				// Keep driver details out of the client frame.
				s.sendError(model.ErrStorage, code)
			case "":
			default:
				s.sendError(err, code)
			}
		}
	}
}

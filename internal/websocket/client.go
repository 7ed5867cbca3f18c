package websocket

import (
	"context"
)

// WriteMessage drains the send queue to the client, one frame per queued
// payload, in queue order.
func (s *Session) WriteMessage(ctx context.Context) {
	for {
		select {
		case p := <-s.send:
			writeCtx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
			err := s.transport.Send(writeCtx, p)
			cancel()
			if err != nil {
				if !isExpectedClose(err) {
					s.logger(ctx).Warn().Err(err).Msg("failed to write frame")
				}
				s.Close()
				return
			}

		case <-s.done:
			return

		case <-ctx.Done():
			return
		}
	}
}

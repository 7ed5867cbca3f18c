// Command loadtest connects N websocket clients to one room, has each of
// them publish M messages and reports how many broadcasts were received.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/johndosdos/roomchat/internal/logging"
	"github.com/johndosdos/roomchat/internal/model"
)

type options struct {
	addr     string
	room     string
	clients  int
	messages int
	interval time.Duration
	timeout  time.Duration
	drain    time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.addr, "addr", "ws://localhost:8080", "server base URL")
	flag.StringVar(&opts.room, "room", "loadtest", "room to join")
	flag.IntVar(&opts.clients, "clients", 10, "number of concurrent clients")
	flag.IntVar(&opts.messages, "messages", 10, "messages sent per client")
	flag.DurationVar(&opts.interval, "interval", 100*time.Millisecond, "delay between sends")
	flag.DurationVar(&opts.timeout, "timeout", time.Minute, "overall deadline")
	flag.DurationVar(&opts.drain, "drain", 5*time.Second, "how long to wait for broadcasts after the last send")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Pretty: true, ServiceName: "loadtest"})

	res, err := run(context.Background(), opts)
	if err != nil {
		logging.L().Error().Err(err).Msg("load test failed")
		os.Exit(1)
	}

	fmt.Printf("clients=%d sent=%d received=%d expected=%d errors=%d elapsed=%s\n",
		opts.clients, res.sent, res.received, res.expected(opts), res.errorFrames, res.elapsed)
}

type result struct {
	sent        int64
	received    int64
	errorFrames int64
	elapsed     time.Duration
}

func (r result) expected(o options) int64 {
	return (r.sent - r.errorFrames) * int64(o.clients)
}

// frame is either a broadcast or an error frame.
type frame struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	Code     string `json:"code"`
}

func run(ctx context.Context, o options) (result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var sent, received, errorFrames atomic.Int64
	start := time.Now()

	// Everyone connects before anyone sends, so every client should see every
	// broadcast.
	conns := make([]*websocket.Conn, o.clients)
	for i := range conns {
		u := fmt.Sprintf("%s/ws/%s?username=%s", o.addr, url.PathEscape(o.room), url.QueryEscape(botName(i)))
		conn, _, err := websocket.Dial(ctx, u, nil)
		if err != nil {
			return result{}, fmt.Errorf("client %d: dial: %w", i, err)
		}
		defer conn.CloseNow() //nolint:errcheck
		conns[i] = conn
	}

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()

	var readers errgroup.Group
	for i, conn := range conns {
		readers.Go(func() error {
			for {
				var f frame
				if err := wsjson.Read(readCtx, conn, &f); err != nil {
					if readCtx.Err() != nil {
						return nil
					}
					return fmt.Errorf("%s: read: %w", botName(i), err)
				}
				if f.Code != "" {
					errorFrames.Add(1)
					continue
				}
				received.Add(1)
			}
		})
	}

	writers, wctx := errgroup.WithContext(ctx)
	for i, conn := range conns {
		writers.Go(func() error {
			for j := 0; j < o.messages; j++ {
				in := model.Inbound{Username: botName(i), RoomName: o.room, Message: fmt.Sprintf("%s #%d", botName(i), j)}
				if err := wsjson.Write(wctx, conn, in); err != nil {
					return fmt.Errorf("%s: write: %w", botName(i), err)
				}
				sent.Add(1)

				select {
				case <-time.After(o.interval):
				case <-wctx.Done():
					return wctx.Err()
				}
			}
			return nil
		})
	}
	werr := writers.Wait()

	// Wait for outstanding broadcasts. Every accepted send reaches every
	// client; a rejected one comes back once as an error frame.
	drain := time.NewTimer(o.drain)
	defer drain.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for waiting := true; waiting; {
		want := (sent.Load() - errorFrames.Load()) * int64(o.clients)
		if received.Load() >= want {
			break
		}
		select {
		case <-ticker.C:
		case <-drain.C:
			waiting = false
		case <-ctx.Done():
			waiting = false
		}
	}

	stopReading()
	rerr := readers.Wait()
	for _, conn := range conns {
		conn.Close(websocket.StatusNormalClosure, "done") //nolint:errcheck
	}

	return result{
		sent:        sent.Load(),
		received:    received.Load(),
		errorFrames: errorFrames.Load(),
		elapsed:     time.Since(start),
	}, errors.Join(werr, rerr)
}

func botName(i int) string {
	return fmt.Sprintf("bot-%d", i)
}

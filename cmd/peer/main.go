// Command peer is a terminal client for a wsmux server. Each stdin line is
// sent as a text message; everything received is printed to stdout.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/wsmux/internal/logging"
	"github.com/Tyrowin/wsmux/internal/message"
	"github.com/Tyrowin/wsmux/internal/peer"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:8080/ws", "server WebSocket URL")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger := logging.New(logging.Config{Level: *logLevel}, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := peer.Connect(ctx, *url, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "peer: %v\n", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-p.Done():
				printAll(p)
				return p.Err()
			case <-p.Ready():
				printAll(p)
			}
		}
	})

	g.Go(func() error {
		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-p.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return p.Close()
				}
				if err := p.Send(gctx, message.Text(line)); err != nil && !errors.Is(err, peer.ErrClosed) {
					return fmt.Errorf("send: %w", err)
				}
			}
		}
	})

	err = g.Wait()
	_ = p.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "peer: %v\n", err)
		os.Exit(1)
	}
}

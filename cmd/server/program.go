package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/judwhite/go-svc"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/wsmux/internal/logging"
	"github.com/Tyrowin/wsmux/internal/relay"
	"github.com/Tyrowin/wsmux/internal/server"
)

// program implements svc.Service.
type program struct {
	cfg       server.Config
	logger    *slog.Logger
	relayOpts []relay.Option

	srv    *server.Server
	cancel context.CancelFunc
	group  *errgroup.Group
}

func (p *program) Init(env svc.Environment) error {
	fs := flag.NewFlagSet("wsmux", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	announce := fs.Bool("announce", false, "broadcast join and leave notices")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	p.cfg = cfg
	p.logger = logging.New(cfg.Log, os.Stderr)
	slog.SetDefault(p.logger)

	if *announce {
		p.relayOpts = append(p.relayOpts, relay.WithAnnouncements())
	}

	p.logger.Info("wsmux initialised",
		"config", *configPath,
		"windows_service", env != nil && env.IsWindowsService())
	return nil
}

func (p *program) Start() error {
	p.srv = server.NewServer(p.cfg, p.logger)
	if err := p.srv.Start(); err != nil {
		if errors.Is(err, server.ErrBind) {
			p.logger.Error("cannot bind listen address", "addr", p.cfg.ListenAddr, "error", err)
		}
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	r := relay.New(p.srv.Hub(), p.logger, p.relayOpts...)
	g.Go(func() error {
		return r.Run(gctx, p.cfg.TickInterval)
	})
	g.Go(func() error {
		err := p.srv.Wait(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	p.group = g

	// svc.Run only returns on a signal, so a failed group is reported here
	// and the process keeps running until it is stopped.
	go func() {
		if err := g.Wait(); err != nil {
			p.logger.Error("server stopped unexpectedly; waiting for stop signal", "error", err)
		}
	}()
	return nil
}

func (p *program) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if p.srv != nil {
		if err := p.srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.group != nil {
		if err := p.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		p.logger.Error("shutdown finished with errors", "error", err)
		return err
	}
	p.logger.Info("wsmux stopped")
	return nil
}

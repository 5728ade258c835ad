package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/mattjoyce/pxshell/internal/api"
	"github.com/mattjoyce/pxshell/internal/autodispatch"
	"github.com/mattjoyce/pxshell/internal/config"
	"github.com/mattjoyce/pxshell/internal/dispatch"
	"github.com/mattjoyce/pxshell/internal/events"
	"github.com/mattjoyce/pxshell/internal/history"
	"github.com/mattjoyce/pxshell/internal/interrupt"
	"github.com/mattjoyce/pxshell/internal/lock"
	"github.com/mattjoyce/pxshell/internal/log"
	"github.com/mattjoyce/pxshell/internal/pool"
	"github.com/mattjoyce/pxshell/internal/results"
	"github.com/mattjoyce/pxshell/internal/shell"
	"github.com/mattjoyce/pxshell/internal/storage"
	"github.com/mattjoyce/pxshell/internal/workspace"
)

// runtimeOptions are the terminal-facing knobs of a session.
type runtimeOptions struct {
	In               io.Reader
	Out              io.Writer
	ErrOut           io.Writer
	Prompt           bool
	HandleInterrupts bool
}

// sessionRuntime is one assembled session: lock, engines, submission log, event hub
// and the interactive host with its dispatcher.
type sessionRuntime struct {
	cfg     *config.Config
	execCfg *config.ExecutionConfig
	logger  *slog.Logger

	pidLock *lock.PIDLock
	pool    *pool.Pool
	db      *sql.DB
	history *history.Store
	hub     *events.Hub

	session *shell.Session
	disp    *dispatch.Dispatcher
	cache   *results.Cache
}

const eventBuffer = 256

// startRuntime builds a session from cfg. The caller must Close it.
func startRuntime(ctx context.Context, cfg *config.Config, opts runtimeOptions) (rt *sessionRuntime, err error) {
	settings, err := cfg.ExecutionSettings()
	if err != nil {
		return nil, fmt.Errorf("execution settings: %w", err)
	}

	rt = &sessionRuntime{
		cfg:     cfg,
		execCfg: config.NewExecutionConfig(settings),
		logger:  log.WithComponent("main"),
	}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	rt.pidLock, err = lock.AcquireDir(cfg.Pool.WorkDir)
	if err != nil {
		return rt, fmt.Errorf("lock work dir %s: %w", cfg.Pool.WorkDir, err)
	}
	rt.logger.Debug("acquired work dir lock", "path", rt.pidLock.Path())

	wsManager, err := workspace.NewFSManager(cfg.Pool.WorkDir)
	if err != nil {
		return rt, fmt.Errorf("workspace manager: %w", err)
	}

	rt.pool, err = pool.New(ctx, pool.Options{
		Engines:       cfg.Pool.Engines,
		Shell:         cfg.Pool.Shell,
		Env:           cfg.Pool.Env,
		KillGrace:     cfg.Pool.KillGrace,
		Workspaces:    wsManager,
		ProgressOut:   opts.ErrOut,
		ProgressLabel: "%px" + cfg.Magics.Suffix,
	})
	if err != nil {
		return rt, err
	}

	var recorder dispatch.Recorder
	if cfg.History.Enabled {
		rt.db, err = storage.OpenSQLite(ctx, cfg.History.Path)
		if err != nil {
			return rt, fmt.Errorf("open history %s: %w", cfg.History.Path, err)
		}
		rt.history = history.New(rt.db)
		recorder = rt.history
	}

	rt.hub = events.NewHub(eventBuffer)

	rt.session = shell.New(shell.Options{
		In:               opts.In,
		Out:              opts.Out,
		ErrOut:           opts.ErrOut,
		Config:           rt.execCfg,
		Suffix:           cfg.Magics.Suffix,
		LocalShell:       cfg.Pool.Shell,
		Prompt:           opts.Prompt,
		HandleInterrupts: opts.HandleInterrupts,
	})
	rt.cache = results.NewCache(rt.session)
	rt.disp = dispatch.New(dispatch.Deps{
		View:     rt.pool,
		Config:   rt.execCfg,
		Cache:    rt.cache,
		Bridge:   interrupt.NewBridge(rt.pool),
		Out:      opts.Out,
		ErrOut:   opts.ErrOut,
		Recorder: recorder,
		Events:   rt.hub,
	})
	auto := autodispatch.New(rt.session, rt.disp, opts.Out, cfg.Magics.Suffix, rt.hub)
	rt.session.Attach(rt.disp, rt.cache, auto)

	return rt, nil
}

// apiServer returns the status API bound to this session.
func (rt *sessionRuntime) apiServer() *api.Server {
	deps := api.Deps{
		Settings: rt.execCfg,
		Results:  rt.cache,
		Engines:  rt.pool,
		Events:   rt.hub,
	}
	if rt.history != nil {
		deps.History = rt.history
	}
	return api.New(api.Config{
		Listen: rt.cfg.API.Listen,
		APIKey: rt.cfg.API.APIKey,
	}, deps, log.WithComponent("api"))
}

// Close tears the session down in reverse order of construction.
func (rt *sessionRuntime) Close() {
	if rt.disp != nil {
		rt.disp.Close()
	}
	if rt.pool != nil {
		if err := rt.pool.Close(); err != nil {
			rt.logger.Warn("engine pool shutdown", "error", err)
		}
	}
	if rt.db != nil {
		_ = rt.db.Close()
	}
	if rt.pidLock != nil {
		_ = rt.pidLock.Release()
	}
}

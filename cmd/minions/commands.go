package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/fordtom/minions"
	"github.com/fordtom/minions/internal/shellwords"
	mtls "github.com/fordtom/minions/internal/tls"
	"github.com/fordtom/minions/internal/tui"
	"github.com/fordtom/minions/pkg/client"
)

// command implements the client-side subcommands against a running daemon.
type command struct {
	out io.Writer
}

// apiClient resolves the daemon URL: --api-url, then the listen address of
// --config, then the default local address.
func (c command) apiClient(f ClientFlags) (*client.Client, error) {
	cfg := client.DefaultConfig()
	if f.APITimeout > 0 {
		cfg.Timeout = f.APITimeout
	}
	cfg.CACert = f.CACert
	cfg.Insecure = f.Insecure
	switch {
	case f.APIUrl != "":
		cfg.BaseURL = f.APIUrl
	case f.ConfigPath != "":
		mc, err := minions.LoadConfig(f.ConfigPath)
		if err != nil {
			return nil, err
		}
		t := mc.Server.TLS
		cfg.BaseURL = baseURLFromListen(mc.Server.Listen, mc.Server.BasePath, t.Enabled)
		if t.Enabled && cfg.CACert == "" && t.CertFile == "" && t.Dir != "" {
			cfg.CACert = filepath.Join(t.Dir, mtls.CACertFile)
		}
	}
	return client.New(cfg), nil
}

func baseURLFromListen(listen, basePath string, https bool) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return client.DefaultBaseURL
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	scheme := "http://"
	if https {
		scheme = "https://"
	}
	return scheme + net.JoinHostPort(host, port) + strings.TrimRight(basePath, "/")
}

func (c command) List(ctx context.Context, f ClientFlags) error {
	cl, err := c.apiClient(f)
	if err != nil {
		return err
	}
	procs, err := cl.List(ctx)
	if err != nil {
		return err
	}
	return printJSON(c.out, procs)
}

func (c command) Get(ctx context.Context, f ClientFlags, id int64) error {
	cl, err := c.apiClient(f)
	if err != nil {
		return err
	}
	p, err := cl.Get(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(c.out, p)
}

func (c command) Create(ctx context.Context, f ClientFlags, in InputFlags) error {
	body, err := in.input()
	if err != nil {
		return err
	}
	cl, err := c.apiClient(f)
	if err != nil {
		return err
	}
	p, err := cl.Create(ctx, body)
	if err != nil {
		return err
	}
	return printJSON(c.out, p)
}

// Update replaces the whole definition; optional flags left out are cleared.
func (c command) Update(ctx context.Context, f ClientFlags, id int64, in InputFlags) error {
	body, err := in.input()
	if err != nil {
		return err
	}
	cl, err := c.apiClient(f)
	if err != nil {
		return err
	}
	p, err := cl.Update(ctx, id, body)
	if err != nil {
		return err
	}
	return printJSON(c.out, p)
}

func (c command) Delete(ctx context.Context, f ClientFlags, id int64) error {
	cl, err := c.apiClient(f)
	if err != nil {
		return err
	}
	if err := cl.Delete(ctx, id); err != nil {
		return err
	}
	return printJSON(c.out, map[string]int64{"id": id})
}

func (c command) Start(ctx context.Context, f ClientFlags, id int64) error {
	cl, err := c.apiClient(f)
	if err != nil {
		return err
	}
	p, err := cl.Start(ctx, id)
	if err != nil {
		return err
	}
	if p.State.PID != nil {
		cmdline := []string{p.FlakeURL}
		if p.Args != nil {
			if a, perr := shellwords.Parse(*p.Args); perr == nil {
				cmdline = append(cmdline, a...)
			}
		}
		_, _ = fmt.Fprintf(os.Stderr, "started %s (pid %d)\n", shellwords.Join(cmdline...), *p.State.PID)
	}
	return printJSON(c.out, p)
}

func (c command) Stop(ctx context.Context, f ClientFlags, id int64) error {
	cl, err := c.apiClient(f)
	if err != nil {
		return err
	}
	p, err := cl.Stop(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(c.out, p)
}

func (c command) Reconcile(ctx context.Context, f ClientFlags) error {
	cl, err := c.apiClient(f)
	if err != nil {
		return err
	}
	ids, err := cl.Reconcile(ctx)
	if err != nil {
		return err
	}
	if ids == nil {
		ids = []int64{}
	}
	return printJSON(c.out, map[string][]int64{"reconciled": ids})
}

func (c command) History(ctx context.Context, f ClientFlags, id int64, h HistoryFlags) error {
	cl, err := c.apiClient(f)
	if err != nil {
		return err
	}
	evs, err := cl.History(ctx, id, h.Limit)
	if err != nil {
		return err
	}
	return printJSON(c.out, evs)
}

func (c command) Resources(ctx context.Context, f ClientFlags, id int64) error {
	cl, err := c.apiClient(f)
	if err != nil {
		return err
	}
	r, err := cl.Resources(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(c.out, r)
}

// UI runs the terminal UI against the daemon.
func (c command) UI(ctx context.Context, f ClientFlags) error {
	cl, err := c.apiClient(f)
	if err != nil {
		return err
	}
	if !cl.IsReachable(ctx) {
		return fmt.Errorf("daemon not reachable; start it with 'minions serve'")
	}
	return tui.New(cl, f.APITimeout).Run()
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/archive"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/auth"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/config"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/controlplane"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/store"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(stderr io.Writer, err error) int {
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func runStatsCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	setupLogging(cfg, stderr)
	rt, err := bootstrap(ctx, cfg)
	if err != nil {
		return fail(stderr, err)
	}
	defer rt.Close()

	svc, err := controlplane.New(rt.policy, rt.log, rt.states)
	if err != nil {
		return fail(stderr, err)
	}
	stats, err := svc.Statistics(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	if err := printJSON(stdout, stats); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runVerifyCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	bundlePath := fs.String("bundle", "", "verify an exported evidence bundle file instead of the database")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *bundlePath != "" {
		data, err := os.ReadFile(*bundlePath)
		if err != nil {
			return fail(stderr, err)
		}
		var bundle store.EvidenceBundle
		if err := json.Unmarshal(data, &bundle); err != nil {
			return fail(stderr, fmt.Errorf("decode bundle: %w", err))
		}
		if err := store.VerifyBundle(&bundle); err != nil {
			_, _ = fmt.Fprintf(stdout, "FAIL bundle %s: %v\n", bundle.BundleID, err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "OK bundle %s: %d entries, sequences %d-%d\n",
			bundle.BundleID, bundle.EntryCount, bundle.StartSeq, bundle.EndSeq)
		return 0
	}

	cfg := config.Load()
	setupLogging(cfg, stderr)
	rt, err := bootstrap(ctx, cfg)
	if err != nil {
		if errors.Is(err, store.ErrChainBroken) {
			_, _ = fmt.Fprintf(stdout, "FAIL audit chain: %v\n", err)
			return 1
		}
		return fail(stderr, err)
	}
	defer rt.Close()

	if err := rt.audit.VerifyChain(); err != nil {
		_, _ = fmt.Fprintf(stdout, "FAIL audit chain: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "OK audit chain: %d entries, head %s\n", rt.audit.Size(), rt.audit.GetChainHead())
	return 0
}

func runArchiveCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("archive", flag.ContinueOnError)
	fs.SetOutput(stderr)
	from := fs.Uint64("from", 0, "first sequence to include")
	to := fs.Uint64("to", 0, "last sequence to include (0 = chain head)")
	entryType := fs.String("type", "", "restrict to one entry type (failsafe, blocked_charge, override, kill_switch)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	setupLogging(cfg, stderr)
	rt, err := bootstrap(ctx, cfg)
	if err != nil {
		return fail(stderr, err)
	}
	defer rt.Close()

	blobs, err := archive.NewStoreFromEnv(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	receipt, err := archive.NewArchiver(rt.audit, blobs).Archive(ctx, store.QueryFilter{
		EntryType: store.EntryType(*entryType),
		StartSeq:  *from,
		EndSeq:    *to,
	})
	if err != nil {
		return fail(stderr, err)
	}
	if err := printJSON(stdout, receipt); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runTokenCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	subject := fs.String("subject", "", "token subject (the operator or administrator ID)")
	roles := fs.String("roles", auth.RoleOperator, "comma-separated roles (operator, administrator, pipeline)")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	if cfg.AuthSigningSeed == "" {
		return fail(stderr, errors.New("AUTH_SIGNING_SEED is required to mint tokens the server accepts"))
	}
	ks, err := auth.NewKeySetFromSeed(cfg.AuthSigningSeed)
	if err != nil {
		return fail(stderr, err)
	}

	var roleList []string
	for _, r := range strings.Split(*roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roleList = append(roleList, r)
		}
	}
	token, err := auth.IssueToken(ctx, ks, *subject, roleList, *ttl)
	if err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintln(stdout, token)
	return 0
}

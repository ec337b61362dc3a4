// Command herbtrace is the operator tool for a herbtrace store: integrity
// sweeps, QR verification, projection rebuilds, compliance checks, evidence
// uploads and the metrics endpoint.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"herbtrace/internal/config"
	"herbtrace/internal/core"
	"herbtrace/internal/evidence"
	"herbtrace/pkg/domain"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const usage = `usage: herbtrace <command> [flags]

commands:
  verify-integrity  recompute audit hashes (-entity to limit to one entity)
  verify-qr         resolve a QR code id the way a scanner would
  history           print the audit history of an entity
  reproject         rebuild cached status from history (-all or -kind/-id)
  check             score an entity against compliance rule sets
  attach            upload evidence and optionally record an event citing it
  rulesets          list registered compliance rule sets
  serve-metrics     expose Prometheus metrics until interrupted
`

var loadConfig = config.Load

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	commands := map[string]func(context.Context, *app, []string, io.Writer) error{
		"verify-integrity": cmdVerifyIntegrity,
		"verify-qr":        cmdVerifyQR,
		"history":          cmdHistory,
		"reproject":        cmdReproject,
		"check":            cmdCheck,
		"attach":           cmdAttach,
		"rulesets":         cmdRuleSets,
		"serve-metrics":    cmdServeMetrics,
	}
	cmd, ok := commands[args[0]]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	cfg, err := loadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "startup: %v\n", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			_, _ = fmt.Fprintf(stderr, "shutdown: %v\n", err)
		}
	}()

	err = cmd(ctx, a, args[1:], stdout)
	var broken errIntegrity
	switch {
	case err == nil:
		return 0
	case errors.As(err, &broken):
		return 3
	case errors.Is(err, flag.ErrHelp):
		return 2
	default:
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", args[0], err)
		return 1
	}
}

// errIntegrity signals that a sweep completed but found broken entries.
type errIntegrity struct{ broken int }

func (e errIntegrity) Error() string { return fmt.Sprintf("%d audit entries failed verification", e.broken) }

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func cmdVerifyIntegrity(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("verify-integrity")
	entity := fs.String("entity", "", "entity id (empty sweeps the whole log)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	report, err := a.service.VerifyIntegrity(ctx, *entity)
	if err != nil {
		return err
	}
	if err := writeJSON(stdout, report); err != nil {
		return err
	}
	if !report.Valid {
		return errIntegrity{broken: len(report.Broken)}
	}
	return nil
}

func cmdVerifyQR(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("verify-qr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected exactly one QR code id")
	}
	out, err := a.service.VerifyQR(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return writeJSON(stdout, out)
}

func cmdHistory(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("history")
	entity := fs.String("entity", "", "entity id")
	offset := fs.Int("offset", 0, "first entry to return")
	limit := fs.Int("limit", core.DefaultPageLimit, "entries per page")
	if err := fs.Parse(args); err != nil {
		return err
	}
	page, err := a.service.HistoryWindow(ctx, *entity, *offset, *limit)
	if err != nil {
		return err
	}
	return writeJSON(stdout, page)
}

func cmdReproject(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("reproject")
	all := fs.Bool("all", false, "rebuild every lot and plant")
	kind := fs.String("kind", string(domain.EntityLot), "entity kind")
	id := fs.String("id", "", "entity id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*all {
		if *id == "" {
			return errors.New("-id is required unless -all is set")
		}
		res, err := a.service.Reproject(ctx, domain.EntityKind(*kind), *id)
		if err != nil {
			return err
		}
		return writeJSON(stdout, res)
	}

	targets, err := allEntities(ctx, a.service)
	if err != nil {
		return err
	}
	repaired := 0
	for _, t := range targets {
		res, err := a.service.Reproject(ctx, t.kind, t.id)
		if err != nil {
			return fmt.Errorf("reproject %s %s: %w", t.kind, t.id, err)
		}
		if res.Repaired {
			repaired++
		}
	}
	a.logger.Info("reprojection finished", zap.Int("entities", len(targets)), zap.Int("repaired", repaired))
	return writeJSON(stdout, map[string]int{"entities": len(targets), "repaired": repaired})
}

type target struct {
	kind domain.EntityKind
	id   string
}

func allEntities(ctx context.Context, svc *core.Service) ([]target, error) {
	var out []target
	for offset := 0; ; offset += core.MaxPageLimit {
		page, err := svc.ListLots(ctx, core.LotFilter{}, core.Page{Offset: offset, Limit: core.MaxPageLimit})
		if err != nil {
			return nil, err
		}
		for _, lot := range page.Items {
			out = append(out, target{kind: lot.Kind(), id: lot.ID})
		}
		if offset+len(page.Items) >= page.Total {
			break
		}
	}
	for offset := 0; ; offset += core.MaxPageLimit {
		page, err := svc.ListPlants(ctx, core.PlantFilter{}, core.Page{Offset: offset, Limit: core.MaxPageLimit})
		if err != nil {
			return nil, err
		}
		for _, plant := range page.Items {
			out = append(out, target{kind: domain.EntityPlant, id: plant.ID})
		}
		if offset+len(page.Items) >= page.Total {
			break
		}
	}
	return out, nil
}

func cmdCheck(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("check")
	kind := fs.String("kind", string(domain.EntityLot), "entity kind")
	id := fs.String("id", "", "entity id")
	rules := fs.String("rules", "", "comma separated rule sets (empty checks all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var sets []string
	if *rules != "" {
		sets = strings.Split(*rules, ",")
	}
	result, err := a.service.CheckCompliance(ctx, *id, domain.EntityKind(*kind), sets)
	if err != nil {
		return err
	}
	return writeJSON(stdout, result)
}

func cmdAttach(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := newFlagSet("attach")
	kind := fs.String("kind", string(domain.EntityLot), "entity kind")
	id := fs.String("id", "", "entity id")
	file := fs.String("file", "", "path of the evidence file")
	contentType := fs.String("content-type", "application/octet-stream", "evidence MIME type")
	operator := fs.String("operator", "", "operator uploading the evidence")
	eventType := fs.String("event", "", "event type to record with the attachment")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.evidence == nil {
		return errors.New("no blob driver configured (set HERBTRACE_BLOB_DRIVER)")
	}
	f, err := os.Open(*file)
	if err != nil {
		return fmt.Errorf("open evidence: %w", err)
	}
	defer f.Close()

	info, err := a.evidence.Put(ctx, evidence.Upload{
		Kind:        domain.EntityKind(*kind),
		EntityID:    *id,
		Filename:    filepath.Base(*file),
		ContentType: *contentType,
		Operator:    *operator,
		Body:        f,
	})
	if err != nil {
		return err
	}
	out := map[string]any{"key": info.Key, "size": info.Size, "etag": info.ETag}
	if *eventType != "" {
		evt, _, err := a.service.RecordEvent(ctx, core.EventSpec{
			Kind:        domain.EntityKind(*kind),
			EntityID:    *id,
			Type:        domain.EventType(*eventType),
			Operator:    *operator,
			Attachments: []string{info.Key},
		})
		if err != nil {
			return err
		}
		out["event_id"] = evt.ID
	}
	return writeJSON(stdout, out)
}

func cmdRuleSets(_ context.Context, a *app, args []string, stdout io.Writer) error {
	engine := a.service.ComplianceEngine()
	type entry struct {
		Name         string `json:"name"`
		Version      string `json:"version"`
		Requirements int    `json:"requirements"`
	}
	out := []entry{}
	for _, name := range engine.RuleSetNames() {
		set, _ := engine.RuleSet(name)
		out = append(out, entry{Name: set.Name, Version: set.Version, Requirements: len(set.Requirements)})
	}
	return writeJSON(stdout, map[string]any{"threshold": engine.Threshold(), "rule_sets": out})
}

func cmdServeMetrics(ctx context.Context, a *app, args []string, _ io.Writer) error {
	fs := newFlagSet("serve-metrics")
	addr := fs.String("addr", a.cfg.MetricsAddr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *addr == "" {
		*addr = ":9464"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.logger.Info("serving metrics", zap.String("addr", *addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

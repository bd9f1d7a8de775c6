package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/scriptflow/scriptflow/internal/api"
	"github.com/scriptflow/scriptflow/internal/capability"
	"github.com/scriptflow/scriptflow/internal/config"
	"github.com/scriptflow/scriptflow/internal/credential"
	"github.com/scriptflow/scriptflow/internal/events"
	"github.com/scriptflow/scriptflow/internal/executor"
	"github.com/scriptflow/scriptflow/internal/schedule"
	"github.com/scriptflow/scriptflow/internal/store"
	"github.com/scriptflow/scriptflow/internal/version"
	pkgcap "github.com/scriptflow/scriptflow/pkg/capability"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		os.Exit(0)
	}

	log.Println(version.Get())

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *config.Config) error {
	reg := capability.NewRegistry()
	if err := capability.RegisterBuiltins(reg); err != nil {
		return fmt.Errorf("registering builtins: %w", err)
	}
	if err := registerLuaCapabilities(reg, cfg.Capabilities.Scripts); err != nil {
		return err
	}
	log.Printf("registry: %d capabilities", reg.Len())

	creds := credential.NewStore()
	if cfg.Credentials.Path != "" {
		if err := creds.Load(cfg.Credentials.Path); err != nil {
			return fmt.Errorf("loading credentials: %w", err)
		}
	}

	db, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()
	workflows := store.NewWorkflowStore(db)

	sinks := events.Multi{&events.LogSink{Redactor: creds.Redactor()}}
	var redisSink *events.RedisSink
	if cfg.Events.Redis.Addr != "" {
		redisSink = events.NewRedisSink(cfg.Events.Redis.Addr, cfg.Events.Redis.Password, cfg.Events.Redis.Channel)
		sinks = append(sinks, redisSink)
		defer redisSink.Close()
	}

	exec := executor.New(reg, creds, sinks).
		WithStore(workflows, &recordAdapter{workflows})

	evaluator := schedule.NewEvaluator(exec, cfg.Scheduler.Enabled)
	if err := loadSchedules(evaluator, workflows); err != nil {
		return err
	}
	evaluator.Start()
	defer evaluator.Stop()

	timeout := cfg.Execution.TimeoutDuration(executor.DefaultTimeout)
	srv := api.New(exec.Validator(), exec, workflows, evaluator, timeout)

	httpSrv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints manage their own deadlines
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.Server.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	return nil
}

// registerLuaCapabilities registers each configured script as a tool with an
// open parameter schema. The script name doubles as the capability name; the
// class name is the capitalized form.
func registerLuaCapabilities(reg *capability.Registry, scripts map[string]string) error {
	for name, path := range scripts {
		impl, err := capability.NewLuaCapability(path)
		if err != nil {
			return fmt.Errorf("loading capability %q: %w", name, err)
		}
		desc := &capability.Descriptor{
			Name:      name,
			ClassName: className(name),
			Kind:      pkgcap.KindTool,
		}
		if err := reg.Register(desc); err != nil {
			return fmt.Errorf("registering capability %q: %w", name, err)
		}
		if err := reg.Bind(name, impl); err != nil {
			return fmt.Errorf("binding capability %q: %w", name, err)
		}
	}
	return nil
}

func className(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func loadSchedules(ev *schedule.Evaluator, workflows *store.WorkflowStore) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	list, err := workflows.ListScheduled(ctx)
	if err != nil {
		return fmt.Errorf("loading schedules: %w", err)
	}
	for _, wf := range list {
		if err := ev.Upsert(wf.ID, wf.Cron); err != nil {
			log.Printf("skipping schedule for workflow %s: %v", wf.ID, err)
		}
	}
	log.Printf("scheduler: %d entries", len(list))
	return nil
}

// recordAdapter persists executor results in the workflow store's record
// shape.
type recordAdapter struct {
	store *store.WorkflowStore
}

func (a *recordAdapter) RecordExecution(ctx context.Context, workflowID string, res *executor.Result) error {
	data := ""
	if res.Data != nil {
		if s, ok := res.Data.(string); ok {
			data = s
		} else if raw, err := json.Marshal(res.Data); err == nil {
			data = string(raw)
		}
	}
	return a.store.RecordExecution(ctx, workflowID, &store.ExecutionRecord{
		ID:         res.ExecutionID,
		WorkflowID: workflowID,
		Status:     res.Status,
		Data:       data,
		Error:      res.Error,
		Logs:       res.Logs,
		StartedAt:  res.Timestamp,
		FinishedAt: time.Now().UTC(),
	})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ritzau/knowledge-map/pkg/backend"
	"github.com/ritzau/knowledge-map/pkg/chat"
	"github.com/ritzau/knowledge-map/pkg/config"
	"github.com/ritzau/knowledge-map/pkg/graph"
	"github.com/ritzau/knowledge-map/pkg/logging"
	"github.com/ritzau/knowledge-map/pkg/metrics"
	"github.com/ritzau/knowledge-map/pkg/model"
	"github.com/ritzau/knowledge-map/pkg/output"
	"github.com/ritzau/knowledge-map/pkg/store"
	"github.com/ritzau/knowledge-map/pkg/watcher"
	"github.com/ritzau/knowledge-map/pkg/web"
)

func main() {
	f := pflag.NewFlagSet("knowledge-map", pflag.ExitOnError)
	f.String("config", config.DefaultFile, "Path to the TOML config file")
	f.Int("port", 8000, "Port for the web server")
	f.String("api-base", "", "Backend the session sends chat messages to (default: this server)")
	f.String("static-dir", "", "Directory with the renderer build to serve at /")
	f.String("seed", "", "JSON graph to start from instead of the sample graph")
	f.Bool("watch", false, "Merge the seed file into the graph whenever it changes")
	f.Bool("open", false, "Open the browser once the server is up")
	f.String("verbosity", "", "Log level: trace, debug, info, warn, error")
	f.CountP("verbose", "v", "Increase log verbosity (-v debug, -vv trace)")
	f.Bool("json-logs", false, "Write logs as JSON")
	f.String("data-dir", "", "Directory for the chat log (kept in memory when empty)")
	f.Bool("backend", true, "Serve /api/chat from this process")
	f.StringSlice("allowed-origins", nil, "Origins allowed to call the API from a browser")
	f.String("llm-model", "", "Chat completion model")
	f.String("llm-base-url", "", "OpenAI-compatible API base URL")
	f.Duration("chat-timeout", 0, "Timeout for one chat request (0 = none)")
	ask := f.String("ask", "", "Ask one question, print the conversation and exit")
	focus := f.String("focus", "", "With --ask, also print this node and its neighbors")
	f.Parse(os.Args[1:])

	cfg, err := config.Load(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logging.Configure(logging.Options{
		Level: logging.ParseLevel(cfg.Verbosity, cfg.VerboseCnt),
		JSON:  cfg.JSONLogs,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *ask, *focus); err != nil {
		logging.Error("knowledge-map failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, ask, focus string) error {
	seed := store.SampleGraph()
	if cfg.Seed != "" {
		g, err := store.LoadGraphFile(cfg.Seed)
		if err != nil {
			return err
		}
		seed = g
	}

	collector := metrics.NewCollector("km")
	publisher := web.NewPublisher()
	defer publisher.Close()

	st := store.New(
		store.WithSeed(seed),
		store.WithPublisher(publisher),
		store.WithMetrics(collector),
	)
	logging.Info("session graph ready", "nodes", len(seed.Nodes), "links", len(seed.Links))

	svc, closeBackend, err := newBackend(cfg, collector)
	if err != nil {
		return err
	}
	defer closeBackend()

	var sender chat.Sender
	if ask != "" && cfg.APIBase == "" {
		if svc == nil {
			return errors.New("no backend available: set llm.api_key or api_base")
		}
		sender = localSender{svc: svc}
	} else {
		sender = chat.NewClient(cfg.ChatBaseURL(), chat.WithTimeout(cfg.Chat.Timeout))
	}
	session := chat.NewSession(st, sender, chat.WithSessionMetrics(collector))

	if ask != "" {
		return askOnce(ctx, st, session, ask, focus)
	}

	server := web.NewServer(web.Options{
		Store:          st,
		Session:        session,
		Backend:        svc,
		Publisher:      publisher,
		Metrics:        collector,
		StaticDir:      cfg.StaticDir,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, fmt.Sprintf(":%d", cfg.Port))
	})

	if cfg.Watch {
		if cfg.Seed == "" {
			logging.Warn("watch requested without a seed file, ignoring")
		} else {
			g.Go(func() error {
				return watcher.Watch(gctx, cfg.Seed, st, watcher.DefaultQuietPeriod, watcher.DefaultMaxWait)
			})
		}
	}

	if cfg.OpenBrowser {
		g.Go(func() error {
			select {
			case <-time.After(500 * time.Millisecond):
				openBrowser(fmt.Sprintf("http://localhost:%d", cfg.Port))
			case <-gctx.Done():
			}
			return nil
		})
	}

	return g.Wait()
}

// newBackend builds the /api/chat service. Without an API key the process
// runs as a session server only.
func newBackend(cfg *config.Config, collector *metrics.Collector) (*backend.Service, func(), error) {
	noop := func() {}
	if !cfg.Backend {
		return nil, noop, nil
	}

	answerer, err := backend.NewOpenAIAnswerer(backend.OpenAIConfig{
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		BaseURL: cfg.LLM.BaseURL,
	})
	if err != nil {
		logging.Warn("backend disabled", "reason", err)
		return nil, noop, nil
	}

	chatLog, err := backend.OpenChatLog(backend.ChatLogConfig{
		Dir:      cfg.DataDir,
		InMemory: cfg.DataDir == "",
	})
	if err != nil {
		return nil, noop, err
	}

	svc := backend.NewService(answerer,
		backend.WithChatLog(chatLog),
		backend.WithServiceMetrics(collector),
	)
	return svc, func() {
		if err := chatLog.Close(); err != nil {
			logging.Warn("failed to close chat log", "error", err)
		}
	}, nil
}

// localSender answers in-process, skipping the HTTP round trip
type localSender struct {
	svc *backend.Service
}

func (l localSender) Send(ctx context.Context, message string) (*model.ChatResponse, error) {
	return l.svc.Chat(ctx, model.ChatRequest{Message: message})
}

func askOnce(ctx context.Context, st *store.GraphStore, session *chat.Session, question, focus string) error {
	reply, err := session.Submit(ctx, question)
	if err != nil {
		return err
	}

	output.PrintTranscript(os.Stdout, st.Messages())
	fmt.Println()
	output.PrintStats(os.Stdout, graph.ComputeStats(st.Graph()))

	if focus != "" {
		fc, err := st.FocusNode(focus)
		if err != nil {
			return fmt.Errorf("focus %s: %w", focus, err)
		}
		fmt.Println()
		output.PrintFocus(os.Stdout, fc)
	}

	if reply.Status == model.StatusError {
		return errors.New(session.Banner())
	}
	return nil
}

func openBrowser(url string) {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "linux":
		cmd = "xdg-open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		logging.Warn("cannot open browser on platform", "os", runtime.GOOS)
		return
	}

	if err := exec.Command(cmd, args...).Start(); err != nil {
		logging.Warn("failed to open browser", "error", err)
	}
}

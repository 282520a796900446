// Command convo runs multi-model conversations from the terminal: several
// LLM participants take turns replying to a shared transcript.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TrialBlazer23/ai-conversation-platform/cache"
	"github.com/TrialBlazer23/ai-conversation-platform/config"
	"github.com/TrialBlazer23/ai-conversation-platform/conversation"
	"github.com/TrialBlazer23/ai-conversation-platform/conversations"
	"github.com/TrialBlazer23/ai-conversation-platform/llm"
	"github.com/TrialBlazer23/ai-conversation-platform/logger"
	"github.com/TrialBlazer23/ai-conversation-platform/migrations"
	"github.com/TrialBlazer23/ai-conversation-platform/reliable"

	// Register the provider backends.
	_ "github.com/TrialBlazer23/ai-conversation-platform/llm/anthropic"
	_ "github.com/TrialBlazer23/ai-conversation-platform/llm/gemini"
	_ "github.com/TrialBlazer23/ai-conversation-platform/llm/openai"

	"github.com/TrialBlazer23/ai-conversation-platform/llm/ollama"
)

const usage = `Usage: convo [flags] <command> [args]

Commands:
  start <prompt>        Start a conversation with the configured participants
  run <prompt>          Start a conversation and stream turns (see -turns)
  next <id>             Stream the next turn of a conversation
  list                  List conversations
  show <id>             Print a conversation transcript
  usage <id>            Show context window usage for a conversation
  export <id>           Print a conversation as JSON
  delete <id>           Delete a conversation
  models                List models available on the local Ollama server
`

func main() {
	var (
		configPath = flag.String("config", config.DefaultPath(), "Path to config file")
		logFile    = flag.String("logfile", "", "Path to log file. If not set, logs to stdout/stderr")
		pretty     = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
		turns      = flag.Int("turns", 4, "Number of turns for the run command")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *logFile != "" && *pretty {
		fmt.Fprintf(os.Stderr, "Error: --logfile and --pretty are mutually exclusive\n")
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	log, err := logger.Init(*logFile, *pretty)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		fmt.Fprintf(os.Stderr, "Cannot load config: %v\n", err)
		os.Exit(1)
	}

	app, err := newApp(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer app.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.run(ctx, flag.Arg(0), flag.Args()[1:], *turns); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.Config
	db     *sql.DB
	engine *conversation.Engine
	logger zerolog.Logger
}

func newApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	if err := migrations.RunMigrations(db, log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	var responseCache *cache.ResponseCache
	if !cfg.Cache.Disabled {
		responseCache = cache.New(time.Duration(cfg.Cache.TTL)*time.Second, cfg.Cache.MaxSize, log)
	}

	engine := conversation.NewEngine(conversations.NewStore(db), conversation.EngineOptions{
		Cache: responseCache,
		Retry: reliable.RetryPolicy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: time.Duration(cfg.Retry.InitialDelay) * time.Second,
			MaxDelay:     time.Duration(cfg.Retry.MaxDelay) * time.Second,
			Multiplier:   cfg.Retry.Multiplier,
		},
		CallsPerMinute: cfg.CallsPerMinute,
		RequestTimeout: time.Duration(cfg.RequestTimeout) * time.Second,
		Logger:         log,
	})

	return &app{cfg: cfg, db: db, engine: engine, logger: log}, nil
}

func (a *app) close() {
	_ = a.db.Close()
}

func (a *app) run(ctx context.Context, command string, args []string, turns int) error {
	switch command {
	case "start":
		return a.start(ctx, args)
	case "run":
		return a.runConversation(ctx, args, turns)
	case "next":
		return a.next(ctx, args)
	case "list":
		return a.list(ctx)
	case "show":
		return a.show(ctx, args)
	case "usage":
		return a.usage(ctx, args)
	case "export":
		return a.export(ctx, args)
	case "delete":
		return a.delete(ctx, args)
	case "models":
		return a.models(ctx)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func (a *app) participants() ([]conversation.Participant, error) {
	if len(a.cfg.Participants) == 0 {
		return nil, fmt.Errorf("no participants configured; add a participants section to %s", config.DefaultPath())
	}
	return lo.Map(a.cfg.Participants, func(p config.ParticipantConfig, _ int) conversation.Participant {
		return conversation.Participant{
			Provider:     p.Provider,
			Model:        p.Model,
			Name:         p.Name,
			Temperature:  p.Temperature,
			SystemPrompt: p.SystemPrompt,
		}
	}), nil
}

func (a *app) start(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("start needs a prompt")
	}
	participants, err := a.participants()
	if err != nil {
		return err
	}
	conv, err := a.engine.Start(ctx, args[0], participants)
	if err != nil {
		return err
	}
	fmt.Println(conv.ID)
	return nil
}

func (a *app) runConversation(ctx context.Context, args []string, turns int) error {
	if len(args) == 0 {
		return fmt.Errorf("run needs a prompt")
	}
	participants, err := a.participants()
	if err != nil {
		return err
	}
	conv, err := a.engine.Start(ctx, args[0], participants)
	if err != nil {
		return err
	}
	fmt.Printf("conversation %s\n\n", conv.ID)

	for i := 0; i < turns; i++ {
		if err := a.streamTurn(ctx, conv.ID); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) next(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("next needs a conversation id")
	}
	return a.streamTurn(ctx, args[0])
}

func (a *app) streamTurn(ctx context.Context, id string) error {
	conv, err := a.engine.Get(ctx, id)
	if err != nil {
		return err
	}
	p := conv.CurrentParticipant()

	events, err := a.engine.AdvanceStream(ctx, id, conversation.TurnOptions{
		APIKey:       credentialFor(p.Provider),
		Host:         a.cfg.Ollama.Host,
		BaseURL:      baseURLFor(p.Provider, a.cfg),
		Organization: a.cfg.OpenAI.Organization,
	})
	if err != nil {
		return err
	}

	for ev := range events {
		switch ev.Type {
		case conversation.EventMetadata:
			fmt.Printf("[%s | %s]\n", ev.Participant, ev.Model)
		case conversation.EventContent:
			fmt.Print(ev.Content)
		case conversation.EventDone:
			fmt.Printf("\n\n(%d tokens, $%s, %.1f%% of context)\n\n",
				ev.Message.TokensUsed,
				strconv.FormatFloat(ev.Message.Cost, 'f', -1, 64),
				ev.Usage.Percentage)
			if ev.Usage.Warning {
				fmt.Fprintln(os.Stderr, "warning: context window is nearly full")
			}
		case conversation.EventError:
			return ev.Err
		}
	}
	return nil
}

func (a *app) list(ctx context.Context) error {
	summaries, err := a.engine.List(ctx, 0, 0)
	if err != nil {
		return err
	}
	for _, s := range summaries {
		fmt.Printf("%s  %-9s  %3d msgs  %7d tokens  $%.4f  %s\n",
			s.ID, s.Status, s.MessageCount, s.TotalTokens, s.TotalCost, s.InitialPrompt)
	}
	return nil
}

func (a *app) show(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("show needs a conversation id")
	}
	conv, err := a.engine.Get(ctx, args[0])
	if err != nil {
		return err
	}
	for _, msg := range conv.Messages {
		fmt.Printf("[%s]\n%s\n\n", msg.Participant, msg.Content)
	}
	fmt.Printf("status=%s tokens=%d cost=$%.4f next=%s\n",
		conv.Status, conv.TotalTokens, conv.TotalCost, conv.CurrentParticipant().DisplayName())
	return nil
}

func (a *app) usage(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage needs a conversation id")
	}
	u, err := a.engine.TokenUsage(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%d/%d tokens (%.1f%%), %d available\n", u.Used, u.Max, u.Percentage, u.Available)
	if u.Exceeded {
		fmt.Println("context window exceeded")
	} else if u.Warning {
		fmt.Println("warning: context window is nearly full")
	}
	return nil
}

func (a *app) export(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("export needs a conversation id")
	}
	data, err := a.engine.Export(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func (a *app) delete(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("delete needs a conversation id")
	}
	return a.engine.Delete(ctx, args[0])
}

func (a *app) models(ctx context.Context) error {
	models := ollama.ListModels(ctx, a.cfg.Ollama.Host, a.logger)
	if len(models) == 0 {
		fmt.Println("no local models found (is the Ollama server running?)")
		return nil
	}
	for _, name := range models {
		fmt.Println(name)
	}
	return nil
}

// credentialFor pulls the provider's API key from the environment.
func credentialFor(provider string) string {
	switch provider {
	case llm.ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case llm.ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case llm.ProviderGemini:
		return os.Getenv("GEMINI_API_KEY")
	default:
		return ""
	}
}

func baseURLFor(provider string, cfg *config.Config) string {
	switch provider {
	case llm.ProviderOpenAI:
		return cfg.OpenAI.BaseURL
	case llm.ProviderGemini:
		return cfg.Gemini.BaseURL
	default:
		return ""
	}
}

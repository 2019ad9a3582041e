// Session setup for CLI commands.
//
// Information Hiding:
// - Provider construction from settings and credentials hidden
// - Telemetry, storage and tool wiring hidden
// - Flag overrides applied on top of environment settings

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/richinex/threadline/agent"
	"github.com/richinex/threadline/apierror"
	"github.com/richinex/threadline/compression"
	"github.com/richinex/threadline/config"
	"github.com/richinex/threadline/llm"
	"github.com/richinex/threadline/storage"
	"github.com/richinex/threadline/telemetry"
	"github.com/richinex/threadline/tools"
)

// Options holds CLI execution options. Zero values keep the
// environment settings.
type Options struct {
	Provider        string
	Model           string
	FallbackModel   string
	SystemPrompt    string
	Session         string
	DBPath          string
	MaxTurns        int
	MaxSessionTurns int
	ToolRetries     uint32
	AllowedPaths    []string
	MetricsAddr     string
	AutoFallback    bool
	Verbose         bool
}

// DefaultOptions returns default CLI options.
func DefaultOptions() Options {
	return Options{
		ToolRetries: 3,
	}
}

// NewLogger builds the CLI logger. Logs go to stderr so they never mix
// with streamed model output.
func NewLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	return cfg.Build()
}

// Open builds a ready-to-use session from environment settings and opts.
// The caller must Close it.
func Open(ctx context.Context, opts Options, in io.Reader, out io.Writer, logger *zap.Logger) (*Session, error) {
	settings, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}

	metrics := prometheus.NewRegistry()
	recorder := telemetry.Multi{
		telemetry.NewLogRecorder(logger),
		telemetry.NewMetricsRecorder("threadline", metrics),
	}

	backend, err := createProvider(settings, logger)
	if err != nil {
		return nil, err
	}
	provider := llm.Instrument(backend, recorder, logger)

	s := newSession(in, out, logger)
	s.maxTurns = settings.Engine.MaxTurns

	if opts.MetricsAddr != "" {
		s.closers = append(s.closers, serveMetrics(opts.MetricsAddr, metrics, logger))
	}

	store, err := openStorage(settings.Storage.DBPath)
	if err != nil {
		s.Close()
		return nil, err
	}
	if closer, ok := store.(io.Closer); ok {
		s.closers = append(s.closers, closer.Close)
	}

	allowed := opts.AllowedPaths
	if len(allowed) == 0 {
		if wd, err := os.Getwd(); err == nil {
			allowed = []string{wd}
		}
	}
	registry, err := tools.WithDefaults(allowed...)
	if err != nil {
		s.Close()
		return nil, err
	}

	cfg := agent.NewBuilder("threadline").
		SystemPrompt(opts.SystemPrompt).
		Model(settings.LLM.Model).
		FallbackModel(settings.LLM.FallbackModel).
		Sampling(settings.Sampling()).
		Tools(registry.Definitions()).
		MaxTurns(settings.Engine.MaxTurns).
		MaxSessionTurns(settings.Engine.MaxSessionTurns).
		Audience(settings.Audience()).
		Build()
	if err := cfg.Validate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("invalid engine configuration: %w", err)
	}

	handler := s.confirmFallback
	if opts.AutoFallback {
		handler = agent.AcceptFallback
	}
	engineOpts := []agent.Option{
		agent.WithCompression(
			compression.WithThreshold(settings.Compression.Threshold),
			compression.WithPreserveFraction(settings.Compression.PreserveFraction),
			compression.WithContextLimit(settings.ContextLimit()),
		),
		agent.WithStorage(store),
		agent.WithFallbackHandler(handler),
		agent.WithLogger(logger),
	}
	if opts.Session != "" {
		engineOpts = append(engineOpts, agent.WithAutosave(opts.Session))
	}
	engine := agent.New(cfg, provider, engineOpts...)

	executor := tools.NewExecutor(tools.ToolConfig{
		TimeoutSecs: tools.DefaultToolTimeout,
		MaxRetries:  opts.ToolRetries,
	}, logger)
	s.attach(engine, registry, tools.WithExecutor(executor))

	if opts.Session != "" {
		if err := s.resume(ctx, opts.Session); err != nil && !errors.Is(err, agent.ErrCheckpointNotFound) {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func loadSettings(opts Options) (config.Settings, error) {
	settings, err := config.New(opts.Provider)
	if err != nil {
		return config.Settings{}, err
	}
	if opts.Model != "" {
		settings.LLM.Model = opts.Model
	}
	if opts.FallbackModel != "" {
		settings.LLM.FallbackModel = opts.FallbackModel
	}
	if opts.DBPath != "" {
		settings.Storage.DBPath = opts.DBPath
	}
	if opts.MaxTurns > 0 {
		settings.Engine.MaxTurns = opts.MaxTurns
	}
	if opts.MaxSessionTurns != 0 {
		settings.Engine.MaxSessionTurns = opts.MaxSessionTurns
	}
	if settings.LLM.FallbackModel == settings.LLM.Model {
		settings.LLM.FallbackModel = ""
	}
	if err := settings.Validate(); err != nil {
		return config.Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}

func createProvider(settings config.Settings, logger *zap.Logger) (llm.Provider, error) {
	providerType, err := llm.ParseProviderType(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}

	builder := providerType.
		Model(settings.LLM.Model).
		MaxTokens(int32(settings.LLM.MaxTokens)).
		Temperature(float32(settings.LLM.Temperature)).
		Timeout(settings.LLM.Timeout).
		Logger(logger)
	if settings.LLM.TopP > 0 {
		builder = builder.TopP(float32(settings.LLM.TopP))
	}
	if settings.LLM.TopK > 0 {
		builder = builder.TopK(int32(settings.LLM.TopK))
	}

	if settings.Engine.Auth == apierror.AuthEnterprise && providerType == llm.ProviderGemini {
		if settings.LLM.Project == "" {
			return nil, errors.New("GOOGLE_CLOUD_PROJECT must be set for enterprise auth")
		}
		return builder.Enterprise(settings.LLM.Project, settings.LLM.Location).FromEnv()
	}

	apiKey, err := config.APIKeyFor(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}
	return builder.APIKey(apiKey)
}

func openStorage(dbPath string) (storage.ConversationStorage, error) {
	if dbPath == "" {
		return storage.NewInMemoryStorage(), nil
	}
	store, err := storage.OpenSqlite(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

// serveMetrics exposes reg on addr until the returned func is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) func() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

// ListModels prints the catalogued models with their context windows.
func ListModels(w io.Writer) {
	fmt.Fprintln(w, "Known models:")
	fmt.Fprintln(w)
	for _, id := range llm.KnownModels() {
		limit, _ := llm.ContextLimit(id)
		fmt.Fprintf(w, "  %-32s %9d tokens\n", id, limit)
	}
}

// ListTools prints the built-in tools.
func ListTools(w io.Writer, verbose bool) error {
	registry, err := tools.WithDefaults()
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "Available tools:")
	fmt.Fprintln(w)

	for _, name := range registry.Names() {
		tool, _ := registry.Get(name)
		meta := tool.Metadata()
		fmt.Fprintf(w, "  %s\n", meta.Name)
		fmt.Fprintf(w, "    %s\n", meta.Description)

		if verbose && len(meta.Parameters) > 0 {
			fmt.Fprintln(w, "    Parameters:")
			for _, param := range meta.Parameters {
				req := ""
				if param.Required {
					req = "*"
				}
				fmt.Fprintf(w, "      %s%s: %s - %s\n", param.Name, req, param.ParamType, param.Description)
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}

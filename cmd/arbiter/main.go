package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mpetrov/arbiter/internal/handler"
	"github.com/mpetrov/arbiter/internal/model"
	"github.com/mpetrov/arbiter/internal/provider"
	"github.com/mpetrov/arbiter/internal/runner"
	"github.com/mpetrov/arbiter/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "arbiter",
		Short: "AI judge evaluation and calibration engine",
	}

	serve := serveCmd()
	root.AddCommand(serve, evaluateCmd(), calibrateCmd(), importCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `arbiter --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// providerFlags registers the vendor credential and endpoint flags shared
// by every command that talks to an LLM.
func providerFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("openai-api-key", "", "OpenAI API key (or set ARBITER_OPENAI_API_KEY)")
	f.String("anthropic-api-key", "", "Anthropic API key (or set ARBITER_ANTHROPIC_API_KEY)")
	f.String("google-ai-api-key", "", "Google AI API key (or set ARBITER_GOOGLE_AI_API_KEY)")
	f.String("openai-base-url", "", "OpenAI-compatible API base URL override")
	f.String("anthropic-base-url", "", "Anthropic API base URL override")
	f.String("gemini-base-url", "", "Google Gemini API base URL override")
	f.Duration("call-timeout", 60*time.Second, "Timeout for a single LLM API call")
}

func loggingFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP evaluation server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "arbiter.db", "SQLite database path")
	providerFlags(cmd)
	loggingFlags(cmd)
	return cmd
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run the evaluation pipeline once and print the summary",
		RunE:  runEvaluate,
	}
	cmd.Flags().String("db", "arbiter.db", "SQLite database path")
	providerFlags(cmd)
	loggingFlags(cmd)
	return cmd
}

func calibrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Calibrate one judge against the golden set",
		RunE:  runCalibrate,
	}
	f := cmd.Flags()
	f.String("db", "arbiter.db", "SQLite database path")
	f.String("judge", "", "Judge ID to calibrate (required)")
	providerFlags(cmd)
	loggingFlags(cmd)

	_ = cmd.MarkFlagRequired("judge")

	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import golden questions or a submission from JSON files",
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "arbiter.db", "SQLite database path")
	f.String("golden", "", "Path to a golden questions JSON file")
	f.String("submission", "", "Path to a submission JSON file")
	loggingFlags(cmd)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("ARBITER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("arbiter")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/arbiter")
	v.AddConfigPath("/etc/arbiter")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func providerConfig(v *viper.Viper) provider.Config {
	return provider.Config{
		OpenAIKey:        v.GetString("openai-api-key"),
		AnthropicKey:     v.GetString("anthropic-api-key"),
		GoogleAIKey:      v.GetString("google-ai-api-key"),
		OpenAIBaseURL:    v.GetString("openai-base-url"),
		AnthropicBaseURL: v.GetString("anthropic-base-url"),
		GeminiBaseURL:    v.GetString("gemini-base-url"),
		CallTimeout:      v.GetDuration("call-timeout"),
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	providers := provider.NewRegistry(providerConfig(v))
	h := handler.New(db,
		runner.NewEvaluationRunner(db, providers),
		runner.NewCalibrationRunner(db, providers),
	)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server", "addr", addr, "db", v.GetString("db"))
	return http.ListenAndServe(addr, r)
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	providers := provider.NewRegistry(providerConfig(v))
	summary, err := runner.NewEvaluationRunner(db, providers).Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("run evaluations: %w", err)
	}
	return printJSON(summary)
}

func runCalibrate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	providers := provider.NewRegistry(providerConfig(v))
	run, err := runner.NewCalibrationRunner(db, providers).Run(cmd.Context(), v.GetString("judge"))
	if err != nil {
		return fmt.Errorf("run calibration: %w", err)
	}
	return printJSON(run)
}

// submissionFile is the on-disk shape accepted by `arbiter import
// --submission`. It mirrors the POST /api/submissions body.
type submissionFile struct {
	Name      string `json:"name"`
	AccountID string `json:"account_id"`
	Questions []struct {
		TemplateQuestionID string             `json:"template_question_id"`
		Text               string             `json:"text"`
		Type               string             `json:"type"`
		StudentChoice      string             `json:"student_choice"`
		StudentReasoning   string             `json:"student_reasoning"`
		Attachments        []model.Attachment `json:"attachments"`
	} `json:"questions"`
}

func runImport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	goldenPath := v.GetString("golden")
	submissionPath := v.GetString("submission")
	if goldenPath == "" && submissionPath == "" {
		return fmt.Errorf("nothing to import: provide --golden and/or --submission")
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if goldenPath != "" {
		if err := importGolden(db, goldenPath); err != nil {
			return fmt.Errorf("import golden set: %w", err)
		}
	}
	if submissionPath != "" {
		if err := importSubmission(db, submissionPath); err != nil {
			return fmt.Errorf("import submission: %w", err)
		}
	}
	return nil
}

func importGolden(db *store.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var questions []model.GoldenQuestion
	if err := json.Unmarshal(data, &questions); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	inserted, skipped := 0, 0
	for _, g := range questions {
		_, ok, err := db.InsertGoldenQuestion(g)
		if err != nil {
			return fmt.Errorf("insert golden question %s: %w", g.TemplateQuestionID, err)
		}
		if ok {
			inserted++
		} else {
			skipped++
		}
	}
	slog.Info("golden set imported", "path", path, "inserted", inserted, "skipped", skipped)
	return nil
}

func importSubmission(db *store.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file submissionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if len(file.Questions) == 0 {
		return fmt.Errorf("%s contains no questions", path)
	}

	subID, err := db.InsertSubmission(model.Submission{Name: file.Name, AccountID: file.AccountID})
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	for _, q := range file.Questions {
		questionID, err := db.InsertQuestion(model.Question{
			SubmissionID:       subID,
			TemplateQuestionID: q.TemplateQuestionID,
			Text:               q.Text,
			Type:               q.Type,
			StudentChoice:      q.StudentChoice,
			StudentReasoning:   q.StudentReasoning,
			HasAttachments:     len(q.Attachments) > 0,
		})
		if err != nil {
			return fmt.Errorf("insert question %s: %w", q.TemplateQuestionID, err)
		}
		for _, a := range q.Attachments {
			a.QuestionID = questionID
			if _, err := db.InsertAttachment(a); err != nil {
				return fmt.Errorf("insert attachment %s: %w", a.FileName, err)
			}
		}
	}
	slog.Info("submission imported", "path", path, "submission_id", subID, "questions", len(file.Questions))
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

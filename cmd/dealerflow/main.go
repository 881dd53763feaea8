// DealerFlow routes inbound dealership chat messages through authored
// workflows and guards every outbound reply.
package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/motorline/dealerflow/internal/api"
	"github.com/motorline/dealerflow/internal/engine"
	"github.com/motorline/dealerflow/internal/genai"
	"github.com/motorline/dealerflow/internal/messaging"
	"github.com/motorline/dealerflow/internal/store"
	"github.com/motorline/dealerflow/internal/twilio"
	"github.com/motorline/dealerflow/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for DealerFlow state data
	DefaultStateDir = "/var/lib/dealerflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "dealerflow.db"
	// DefaultAPIAddr is the default API listen address
	DefaultAPIAddr = ":8080"
	// DefaultBusinessName is used by the validator when none is configured
	DefaultBusinessName = "our showroom"
	// DefaultWorkflowID is the workflow served on the chat channel
	DefaultWorkflowID = "default"
)

// Config holds environment configuration.
type Config struct {
	DatabaseURL  string
	StateDir     string
	OpenAIKey    string
	APIAddr      string
	BusinessName string
	WorkflowID   string
}

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()

	apiAddr := flag.String("api-addr", config.APIAddr, "API listen address")
	dbDSN := flag.String("db-dsn", config.DatabaseURL, "database DSN (postgres:// URL or SQLite file path)")
	stateDir := flag.String("state-dir", config.StateDir, "directory for local state data")
	openaiKey := flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for smart workflows")
	businessName := flag.String("business-name", config.BusinessName, "business name used in validated replies")
	workflowID := flag.String("workflow-id", config.WorkflowID, "workflow served on the chat channel")
	flag.Parse()

	st, err := openStore(*dbDSN, *stateDir)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	var genaiClient genai.ClientInterface
	if *openaiKey != "" {
		client, err := genai.NewClient(genai.WithAPIKey(*openaiKey))
		if err != nil {
			slog.Error("Failed to create GenAI client", "error", err)
			os.Exit(1)
		}
		genaiClient = client
	} else {
		slog.Warn("No OpenAI API key configured; smart workflows are unavailable")
	}

	states := engine.NewStateStore(st)
	selector := engine.NewStepSelector(genaiClient)
	runner := engine.NewRunner(states, selector)
	registry := engine.NewRegistry()
	validator := engine.NewValidator(*businessName)

	pipeline := buildPipeline(runner, states, registry, validator, st, *workflowID)

	server := api.NewServer(runner, states, registry, st, pipeline)
	slog.Info("Bootstrapping DealerFlow", "api_addr", *apiAddr, "dsn_set", *dbDSN != "", "workflow_id", *workflowID)
	if err := server.Run(*apiAddr); err != nil {
		slog.Error("DealerFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("DealerFlow exited successfully")
}

// initializeLogger sets up structured logging; DEALERFLOW_DEBUG enables debug level.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("DEALERFLOW_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and a .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	return Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     util.GetenvDefault("DEALERFLOW_STATE_DIR", DefaultStateDir),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		APIAddr:      util.GetenvDefault("API_ADDR", DefaultAPIAddr),
		BusinessName: util.GetenvDefault("BUSINESS_NAME", DefaultBusinessName),
		WorkflowID:   util.GetenvDefault("DEFAULT_WORKFLOW_ID", DefaultWorkflowID),
	}
}

// openStore selects the storage backend from the DSN: postgres:// URLs use
// PostgreSQL, anything else is treated as a SQLite file path, defaulting to
// a database file under the state directory.
func openStore(dsn, stateDir string) (store.Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	if dsn == "" {
		dsn = filepath.Join(stateDir, DefaultDBFileName)
		slog.Debug("No DSN configured, using default SQLite path", "dsn", dsn)
	}
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// buildPipeline wires the inbound chat pipeline when Twilio is configured;
// without credentials the API still serves the raw run contract.
func buildPipeline(runner *engine.Runner, states *engine.StateStore, registry *engine.Registry,
	validator *engine.Validator, st store.Store, workflowID string) *messaging.Pipeline {
	twilioClient, err := twilio.NewClient()
	if err != nil {
		slog.Warn("Twilio not configured; inbound webhook disabled", "error", err)
		return nil
	}
	msgService := messaging.NewTwilioService(twilioClient)
	return messaging.NewPipeline(runner, states, registry, validator, st, msgService, workflowID)
}

package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	types "github.com/threadloom/threadloom-backend/internal/domain"
	"github.com/threadloom/threadloom-backend/internal/platform/envutil"
)

type Config struct {
	Port        string
	Environment string
	Version     string
	CORSOrigins []string

	DataDir          string
	ActorIdleTTL     time.Duration
	ActorMailboxSize int

	JWTSecretKey   string
	AccessTokenTTL time.Duration
	MasterSecret   string

	QuotaDaily   int
	QuotaMonthly int

	DefaultModelID   string
	TitleModelID     string
	HistoryWindow    int
	MaxToolSteps     int
	WebSearchEnabled bool
	SearchAPIKey     string

	ModelCatalogPath string
	ToolServersPath  string

	AppKeys map[string]string
}

func LoadConfig() Config {
	appKeys := map[string]string{}
	if k := envutil.Str("OPENAI_API_KEY", ""); k != "" {
		appKeys["openai"] = k
	}
	if k := envutil.Str("ANTHROPIC_API_KEY", ""); k != "" {
		appKeys["anthropic"] = k
	}

	var origins []string
	for _, o := range strings.Split(envutil.Str("CORS_ORIGINS", ""), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return Config{
		Port:        envutil.Str("PORT", "8080"),
		Environment: envutil.Str("APP_ENV", "development"),
		Version:     envutil.Str("APP_VERSION", "dev"),
		CORSOrigins: origins,

		DataDir:          envutil.Str("DATA_DIR", "data"),
		ActorIdleTTL:     envutil.Duration("ACTOR_IDLE_TTL", 5*time.Minute),
		ActorMailboxSize: envutil.Int("ACTOR_MAILBOX_SIZE", 64),

		JWTSecretKey:   envutil.Str("JWT_SECRET_KEY", "defaultsecret"),
		AccessTokenTTL: time.Duration(envutil.Int("ACCESS_TOKEN_TTL", 86400)) * time.Second,
		MasterSecret:   envutil.Str("MASTER_SECRET", "defaultmaster"),

		QuotaDaily:   envutil.Int("QUOTA_DAILY", 50),
		QuotaMonthly: envutil.Int("QUOTA_MONTHLY", 500),

		DefaultModelID:   envutil.Str("DEFAULT_MODEL_ID", "gpt-4o-mini"),
		TitleModelID:     envutil.Str("TITLE_MODEL_ID", "gpt-4o-mini"),
		HistoryWindow:    envutil.Int("HISTORY_WINDOW", 50),
		MaxToolSteps:     envutil.Int("MAX_TOOL_STEPS", 5),
		WebSearchEnabled: envutil.Bool("WEB_SEARCH_ENABLED", false),
		SearchAPIKey:     envutil.Str("SEARCH_API_KEY", ""),

		ModelCatalogPath: envutil.Str("MODEL_CATALOG_PATH", ""),
		ToolServersPath:  envutil.Str("TOOL_SERVERS_PATH", ""),

		AppKeys: appKeys,
	}
}

// loadBuiltinToolServers reads the static built-in tool server table. No
// file configured means no built-ins.
func loadBuiltinToolServers(path string) ([]types.ToolServerConfig, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool servers file: %w", err)
	}
	var doc struct {
		Servers []types.ToolServerConfig `yaml:"servers"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse tool servers file: %w", err)
	}
	for i := range doc.Servers {
		doc.Servers[i].IsBuiltIn = true
	}
	return doc.Servers, nil
}

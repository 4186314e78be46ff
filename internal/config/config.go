package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"biochat/internal/domain"
)

// Mode selects which entry point is loading configuration; required keys differ.
type Mode int

const (
	ModeIngest Mode = iota
	ModeChat
)

// Vector store backends.
const (
	StorePinecone = "pinecone"
	StoreLocal    = "local"
)

// OpenAIConfig holds credentials and model names for the OpenAI API.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	ChatModel string
}

// EmbeddingConfig configures the embedding model shared by ingestion and chat.
type EmbeddingConfig struct {
	Model     string
	Dimension int
	BatchSize int
}

// PineconeConfig contains connection details for the managed vector index.
type PineconeConfig struct {
	APIKey    string
	IndexName string
	IndexHost string
	Region    string
	Cloud     string
	Namespace string
}

// VectorStoreConfig selects the vector store implementation.
type VectorStoreConfig struct {
	Type     string
	LocalDir string
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Size    int
	Overlap int
}

// RouterConfig configures the intent router.
type RouterConfig struct {
	Threshold   float64
	TopK        int
	Aggregation string
	RoutesFile  string
}

// AgentConfig configures the retrieval-augmented agent.
type AgentConfig struct {
	TopK        int
	MaxSteps    int
	MemoryTurns int
}

// LogConfig configures the application logger.
type LogConfig struct {
	Level string
	File  string
}

// ChatConfig holds chat front-end settings.
type ChatConfig struct {
	ImagePath string
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	OpenAI      OpenAIConfig
	Embedding   EmbeddingConfig
	Pinecone    PineconeConfig
	VectorStore VectorStoreConfig
	Chunker     ChunkerConfig
	Router      RouterConfig
	Agent       AgentConfig
	Chat        ChatConfig
	Log         LogConfig
}

// MissingError lists required settings that were not provided.
type MissingError struct {
	Names []string
}

func (e *MissingError) Error() string {
	return "missing required settings: " + strings.Join(e.Names, ", ")
}

// Is lets callers match a MissingError with errors.Is(err, domain.ErrConfig).
func (e *MissingError) Is(target error) bool { return target == domain.ErrConfig }

var defaults = map[string]any{
	"OPENAI_BASE_URL":      "https://api.openai.com/v1",
	"OPENAI_CHAT_MODEL":    "gpt-4o",
	"EMBEDDING_MODEL":      "text-embedding-3-small",
	"EMBEDDING_DIM":        "1024",
	"EMBEDDING_BATCH_SIZE": "64",
	"CHUNK_SIZE":           "256",
	"CHUNK_OVERLAP":        "20",
	"VECTOR_STORE":         StorePinecone,
	"LOCAL_INDEX_DIR":      "./.index",
	"ROUTER_THRESHOLD":     "0.3",
	"ROUTER_TOP_K":         "5",
	"ROUTER_AGGREGATION":   "mean",
	"AGENT_TOP_K":          "3",
	"AGENT_MAX_STEPS":      "10",
	"AGENT_MEMORY_TURNS":   "10",
	"CHAT_IMAGE_PATH":      "./public/Paul_Allen.jpg",
	"LOG_LEVEL":            "info",
}

// LoadDotEnv reads a .env file from the working directory if one exists.
// Values already present in the environment win.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Load reads configuration from the environment. It performs no network I/O, so a
// missing credential is reported before any remote service is contacted.
func Load(mode Mode, log *zap.Logger) (*AppConfig, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	cfg := &AppConfig{
		OpenAI: OpenAIConfig{
			APIKey:    v.GetString("OPENAI_API_KEY"),
			BaseURL:   v.GetString("OPENAI_BASE_URL"),
			ChatModel: v.GetString("OPENAI_CHAT_MODEL"),
		},
		Embedding: EmbeddingConfig{
			Model:     v.GetString("EMBEDDING_MODEL"),
			Dimension: positiveInt(v, log, "EMBEDDING_DIM"),
			BatchSize: positiveInt(v, log, "EMBEDDING_BATCH_SIZE"),
		},
		Pinecone: PineconeConfig{
			APIKey:    v.GetString("PINECONE_API_KEY"),
			IndexName: v.GetString("PINECONE_INDEX_NAME"),
			IndexHost: v.GetString("PINECONE_INDEX_HOST"),
			Region:    v.GetString("PINECONE_REGION"),
			Cloud:     v.GetString("PINECONE_CLOUD"),
			Namespace: v.GetString("PINECONE_NAMESPACE"),
		},
		VectorStore: VectorStoreConfig{
			Type:     strings.ToLower(strings.TrimSpace(v.GetString("VECTOR_STORE"))),
			LocalDir: v.GetString("LOCAL_INDEX_DIR"),
		},
		Chunker: ChunkerConfig{
			Size:    positiveInt(v, log, "CHUNK_SIZE"),
			Overlap: nonNegativeInt(v, log, "CHUNK_OVERLAP"),
		},
		Router: RouterConfig{
			Threshold:   unitFloat(v, log, "ROUTER_THRESHOLD"),
			TopK:        positiveInt(v, log, "ROUTER_TOP_K"),
			Aggregation: strings.ToLower(strings.TrimSpace(v.GetString("ROUTER_AGGREGATION"))),
			RoutesFile:  v.GetString("ROUTES_FILE"),
		},
		Agent: AgentConfig{
			TopK:        positiveInt(v, log, "AGENT_TOP_K"),
			MaxSteps:    positiveInt(v, log, "AGENT_MAX_STEPS"),
			MemoryTurns: nonNegativeInt(v, log, "AGENT_MEMORY_TURNS"),
		},
		Chat: ChatConfig{
			ImagePath: v.GetString("CHAT_IMAGE_PATH"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
			File:  v.GetString("LOG_FILE"),
		},
	}

	if cfg.Chunker.Overlap >= cfg.Chunker.Size {
		log.Warn("CHUNK_OVERLAP must be smaller than CHUNK_SIZE; using defaults",
			zap.Int("size", cfg.Chunker.Size), zap.Int("overlap", cfg.Chunker.Overlap))
		cfg.Chunker.Size = mustAtoi(defaults["CHUNK_SIZE"])
		cfg.Chunker.Overlap = mustAtoi(defaults["CHUNK_OVERLAP"])
	}
	switch cfg.Router.Aggregation {
	case "mean", "sum", "max":
	default:
		log.Warn("unknown ROUTER_AGGREGATION; using mean", zap.String("value", cfg.Router.Aggregation))
		cfg.Router.Aggregation = "mean"
	}
	switch cfg.VectorStore.Type {
	case StorePinecone, StoreLocal:
	default:
		log.Warn("unknown VECTOR_STORE; using pinecone", zap.String("value", cfg.VectorStore.Type))
		cfg.VectorStore.Type = StorePinecone
	}

	if err := cfg.validate(mode); err != nil {
		return nil, err
	}
	return cfg, nil
}

type setting struct {
	name  string
	value string
}

func (c *AppConfig) validate(mode Mode) error {
	required := []setting{
		{"PINECONE_INDEX_NAME", c.Pinecone.IndexName},
		{"OPENAI_API_KEY", c.OpenAI.APIKey},
	}
	if c.VectorStore.Type == StorePinecone {
		required = append(required,
			setting{"PINECONE_API_KEY", c.Pinecone.APIKey},
			setting{"PINECONE_REGION", c.Pinecone.Region},
		)
		if mode == ModeIngest {
			required = append(required, setting{"PINECONE_CLOUD", c.Pinecone.Cloud})
		}
	}
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Names: missing}
	}
	return nil
}

func positiveInt(v *viper.Viper, log *zap.Logger, key string) int {
	return parseInt(v, log, key, func(n int) bool { return n > 0 })
}

func nonNegativeInt(v *viper.Viper, log *zap.Logger, key string) int {
	return parseInt(v, log, key, func(n int) bool { return n >= 0 })
}

func parseInt(v *viper.Viper, log *zap.Logger, key string, ok func(int) bool) int {
	def := mustAtoi(defaults[key])
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil || !ok(n) {
		log.Warn(fmt.Sprintf("%s must be a valid integer; defaulting to %d", key, def), zap.String("value", raw))
		return def
	}
	return n
}

func unitFloat(v *viper.Viper, log *zap.Logger, key string) float64 {
	def, _ := strconv.ParseFloat(defaults[key].(string), 64)
	raw := strings.TrimSpace(v.GetString(key))
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 || f > 1 {
		log.Warn(fmt.Sprintf("%s must be a number between 0 and 1; defaulting to %g", key, def), zap.String("value", raw))
		return def
	}
	return f
}

func mustAtoi(v any) int {
	n, err := strconv.Atoi(v.(string))
	if err != nil {
		panic(err)
	}
	return n
}

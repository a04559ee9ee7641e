package settings

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

type Arguments struct {
	// The host name or IP address to listen on
	Host string

	// The port number to listen on
	Port int

	// The file path to the datafiles
	DataDir string

	ConfigFile string

	// SchemaFile describes the bundles (YAML), DataFile holds their documents (extended JSON).
	SchemaFile string
	DataFile   string

	Debug bool

	// Reference rewriting
	IsActiveByDefault bool
	Middlewares       []string
	MaxDepth          int
	Concurrency       int

	// Optional MongoDB backend used instead of the in-memory engine
	MongoURI      string
	MongoDatabase string
}

var (
	instance *Arguments
	once     sync.Once
	mu       sync.RWMutex
)

// GetSettings returns the process-wide settings, creating them with defaults on first use.
func GetSettings() *Arguments {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		instance = Defaults()
	})

	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// SetSettings replaces the process-wide settings.
func SetSettings(args *Arguments) {
	GetSettings()
	mu.Lock()
	defer mu.Unlock()
	instance = args
}

func Defaults() *Arguments {
	return &Arguments{
		Host:          "127.0.0.1",
		Port:          1776,
		DataDir:       "./datafiles",
		MaxDepth:      16,
		Concurrency:   1,
		MongoDatabase: "refquery",
	}
}

// Load reads settings from defaults, the optional config file and REFQUERY_* environment variables.
func Load(configFile string) (*Arguments, error) {
	v := viper.New()

	d := Defaults()
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("datadir", d.DataDir)
	v.SetDefault("schema", d.SchemaFile)
	v.SetDefault("data", d.DataFile)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("active_by_default", d.IsActiveByDefault)
	v.SetDefault("middlewares", []string{})
	v.SetDefault("max_depth", d.MaxDepth)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("mongo_uri", d.MongoURI)
	v.SetDefault("mongo_db", d.MongoDatabase)

	v.SetEnvPrefix("REFQUERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
			}
		}
	}

	args := &Arguments{
		Host:              v.GetString("host"),
		Port:              v.GetInt("port"),
		DataDir:           v.GetString("datadir"),
		ConfigFile:        configFile,
		SchemaFile:        v.GetString("schema"),
		DataFile:          v.GetString("data"),
		Debug:             v.GetBool("debug"),
		IsActiveByDefault: v.GetBool("active_by_default"),
		Middlewares:       v.GetStringSlice("middlewares"),
		MaxDepth:          v.GetInt("max_depth"),
		Concurrency:       v.GetInt("concurrency"),
		MongoURI:          v.GetString("mongo_uri"),
		MongoDatabase:     v.GetString("mongo_db"),
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}
	return args, nil
}

// Validate rejects settings the process cannot start with.
func (a *Arguments) Validate() error {
	if a.Port < 1 || a.Port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", a.Port)
	}
	if a.Concurrency < 0 {
		return fmt.Errorf("invalid concurrency: %d", a.Concurrency)
	}
	return nil
}

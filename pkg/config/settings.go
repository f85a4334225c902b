package config

import (
	"time"

	"github.com/go-go-golems/verinews/pkg/security"
	"github.com/go-go-golems/verinews/pkg/verify"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultMaxClaimLength = 250
	DefaultListenAddress  = ":8080"
	DefaultSessionTTL     = 24 * time.Hour
)

// Settings holds the configuration shared by all commands. It is filled from
// flags, VERINEWS_* environment variables and the config file, in that order
// of precedence.
type Settings struct {
	APIBaseURL         string        `mapstructure:"api-base-url"`
	VerifyTimeout      time.Duration `mapstructure:"verify-timeout"`
	MaxClaimLength     int           `mapstructure:"max-claim-length"`
	RateLimit          float64       `mapstructure:"rate-limit"`
	CacheSize          int           `mapstructure:"cache-size"`
	AllowHTTP          bool          `mapstructure:"allow-http"`
	AllowLocalNetworks bool          `mapstructure:"allow-local-networks"`

	ListenAddress string        `mapstructure:"listen-address"`
	RedisURL      string        `mapstructure:"redis-url"`
	SessionTTL    time.Duration `mapstructure:"session-ttl"`

	Autosave    bool   `mapstructure:"autosave"`
	AutosaveDir string `mapstructure:"autosave-dir"`
}

// AddVerificationFlags registers the flags of the verification client.
func AddVerificationFlags(flags *pflag.FlagSet) {
	flags.String("api-base-url", verify.DefaultBaseURL, "Base URL of the claim verification service")
	flags.Duration("verify-timeout", verify.DefaultTimeout, "Timeout of a single verification")
	flags.Int("max-claim-length", DefaultMaxClaimLength, "Maximum claim length in characters (0 for no limit)")
	flags.Float64("rate-limit", 0, "Maximum verification requests per second (0 for no limit)")
	flags.Int("cache-size", 0, "Number of verdicts to cache (0 disables the cache)")
	// the default service is reached over plain http on a public IP
	flags.Bool("allow-http", true, "Allow a plain http verification service")
	flags.Bool("allow-local-networks", false, "Allow a verification service on a local network")
}

func AddServerFlags(flags *pflag.FlagSet) {
	flags.String("listen-address", DefaultListenAddress, "Address the HTTP server listens on")
	flags.String("redis-url", "", "Redis URL for chat storage (default: in memory)")
	flags.Duration("session-ttl", DefaultSessionTTL, "How long idle chats are kept in redis")
}

func AddAutosaveFlags(flags *pflag.FlagSet) {
	flags.Bool("autosave", false, "Save the conversation tree after every change")
	flags.String("autosave-dir", "", "Directory for autosaved conversations (default ~/.verinews/history)")
}

// SetDefaults registers defaults for keys that have no flag on the current
// command.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api-base-url", verify.DefaultBaseURL)
	v.SetDefault("verify-timeout", verify.DefaultTimeout)
	v.SetDefault("max-claim-length", DefaultMaxClaimLength)
	v.SetDefault("allow-http", true)
	v.SetDefault("listen-address", DefaultListenAddress)
	v.SetDefault("session-ttl", DefaultSessionTTL)
}

// FromViper decodes and validates the settings.
func FromViper(v *viper.Viper) (*Settings, error) {
	SetDefaults(v)
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "decoding settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	err := security.ValidateOutboundURL(s.APIBaseURL, security.OutboundURLOptions{
		AllowHTTP:          s.AllowHTTP,
		AllowLocalNetworks: s.AllowLocalNetworks,
	})
	if err != nil {
		return errors.Wrap(err, "api-base-url")
	}
	if s.VerifyTimeout <= 0 {
		return errors.New("verify-timeout must be positive")
	}
	if s.MaxClaimLength < 0 {
		return errors.New("max-claim-length must not be negative")
	}
	if s.RateLimit < 0 {
		return errors.New("rate-limit must not be negative")
	}
	if s.CacheSize < 0 {
		return errors.New("cache-size must not be negative")
	}
	return nil
}

// ClientOptions translates the settings into verification client options.
func (s *Settings) ClientOptions() []verify.ClientOption {
	options := []verify.ClientOption{
		verify.WithBaseURL(s.APIBaseURL),
		verify.WithTimeout(s.VerifyTimeout),
	}
	if s.RateLimit > 0 {
		burst := int(s.RateLimit)
		if burst < 1 {
			burst = 1
		}
		options = append(options, verify.WithRateLimit(s.RateLimit, burst))
	}
	return options
}

// NewVerifier builds the verification client described by the settings,
// with the optional cache and metrics layers.
func (s *Settings) NewVerifier(metrics *verify.Metrics) verify.Verifier {
	var v verify.Verifier = verify.NewClient(s.ClientOptions()...)
	if metrics != nil {
		v = verify.NewInstrumentedVerifier(v, metrics)
	}
	if s.CacheSize > 0 {
		v = verify.NewCachedVerifier(v, s.CacheSize)
	}
	return v
}

package configuration

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

type (
	Properties struct {
		LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

		CampaignFile  string `env:"CAMPAIGN_FILE" envDefault:"config.json"`
		AnalyticsFile string `env:"ANALYTICS_FILE" envDefault:"analytics.json"`
		TemplatesDir  string `env:"TEMPLATES_DIR" envDefault:"templates"`

		Auth       AuthProperties       `envPrefix:"AUTH_"`
		Admin      AdminProperties      `envPrefix:"ADMIN_"`
		S3         S3Properties         `envPrefix:"S3_"`
		Server     HttpServerProperties `envPrefix:"HTTP_"`
		Moderation ModerationProperties `envPrefix:"MODERATION_"`
		DOI        DOIProperties        `envPrefix:"DOI_"`
		Render     RenderProperties     `envPrefix:"RENDER_"`
		Limit      LimitProperties      `envPrefix:"LIMIT_"`
	}

	// AuthProperties configures the optional OIDC single sign-on for admins.
	// SSO stays off while Host is empty.
	AuthProperties struct {
		Host        string        `env:"HOST"`
		ID          string        `env:"ID"`
		Secret      string        `env:"SECRET"`
		Redirect    string        `env:"REDIRECT_URL" envDefault:"http://localhost:8088/admin/sso/callback"`
		CookieName  string        `env:"COOKIE" envDefault:"kn_admin_token"`
		ReadTimeout time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	}

	AdminProperties struct {
		Password  string        `env:"PASSWORD" envDefault:"kn2025analytics"`
		JWTSecret string        `env:"JWT_SECRET" envDefault:"change-me-admin-secret"`
		TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"12h"`
	}

	HttpServerProperties struct {
		Name             string        `env:"NAME" envDefault:"coverserv"`
		Port             string        `env:"PORT" envDefault:"8088"`
		ReadTimeout      time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout     time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
		ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
		AllowOrigins     []string      `env:"ALLOW_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
		ClientCookie     string        `env:"CLIENT_COOKIE" envDefault:"kn_client"`
		MaxUploadBytes   int64         `env:"MAX_UPLOAD_BYTES" envDefault:"15728640"`
		MaxMemoryPercent float64       `env:"MAX_MEMORY_PERCENT" envDefault:"90"`
		Pprof            bool          `env:"PPROF" envDefault:"false"`
	}

	ModerationProperties struct {
		Host    string        `env:"HOST" envDefault:"https://api.openai.com"`
		APIKey  string        `env:"API_KEY"`
		Model   string        `env:"MODEL" envDefault:"omni-moderation-latest"`
		Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
	}

	S3Properties struct {
		Host        string        `env:"HOST"`
		AccessKey   string        `env:"ACCESS_KEY"`
		SecretKey   string        `env:"SECRET_KEY"`
		Bucket      string        `env:"BUCKET" envDefault:"coverserv"`
		UseSSL      bool          `env:"USE_SSL" envDefault:"true"`
		ShareTTL    time.Duration `env:"SHARE_TTL" envDefault:"24h"`
		ReadTimeout time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	}

	DOIProperties struct {
		GracePeriod  time.Duration `env:"GRACE_PERIOD" envDefault:"10m"`
		SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"24h"`
		PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"3s"`
		MaxWait      time.Duration `env:"MAX_WAIT" envDefault:"25s"`
	}

	RenderProperties struct {
		Quality    int `env:"QUALITY" envDefault:"90"`
		CanvasSize int `env:"CANVAS_SIZE" envDefault:"1920"`
	}

	LimitProperties struct {
		RequestsPerMinute int `env:"MAX_REQUESTS_PER_MINUTE" envDefault:"1000"`
	}
)

func ReadProperties() (*Properties, error) {
	config := &Properties{}

	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("read config error: %w", err)
	}
	if config.Render.Quality < 1 || config.Render.Quality > 100 {
		return nil, fmt.Errorf("render quality %d out of range 1..100", config.Render.Quality)
	}
	return config, nil
}

// S3Enabled reports whether an object storage endpoint was configured.
func (p *Properties) S3Enabled() bool {
	return p.S3.Host != ""
}

// SSOEnabled reports whether OIDC login for admins was configured.
func (p *Properties) SSOEnabled() bool {
	return p.Auth.Host != "" && p.Auth.ID != ""
}

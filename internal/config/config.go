package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port              string
		LogLevel          string
		Mode              string
		PublicURL         string
		TunnelAPI         string
		HTTPTimeout       time.Duration
		UpdateWebhooks    bool
		SnapshotCacheSize int
	}
	// Video is the routed video-session provider (sessions, tokens, dial, signal).
	Video struct {
		APIKey    string
		APISecret string
		BaseURL   string
		TokenTTL  time.Duration
	}
	// Voice is the PSTN/SIP provider that serves the conference number.
	Voice struct {
		APIKey            string
		APISecret         string
		AppID             string
		AppName           string
		PrivateKeyPath    string
		ConferenceNumber  string
		ConferenceCountry string
		SIPDomain         string
		BridgeCallerID    string
		APIBaseURL        string
		RestBaseURL       string
		PinPrompt         string
		PinRetryPrompt    string
		PinNotFoundPrompt string
	}
	Feed struct {
		TokenSecret   string
		TokenSkewSecs int
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			log.Warn().Str("module", "config").Str("file", file).Err(err).Msg("config file not loaded, using env and defaults")
		} else {
			log.Info().Str("module", "config").Str("file", file).Msg("config file loaded")
		}
	}

	// Defaults
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.http_timeout", "10s")
	v.SetDefault("server.update_webhooks", false)
	v.SetDefault("server.snapshot_cache_size", 4096)

	v.SetDefault("video.base_url", "https://api.opentok.com")
	v.SetDefault("video.token_ttl", "24h")

	v.SetDefault("voice.sip_domain", "sip.nexmo.com")
	v.SetDefault("voice.bridge_caller_id", "0000000000")
	v.SetDefault("voice.api_base_url", "https://api.nexmo.com")
	v.SetDefault("voice.rest_base_url", "https://rest.nexmo.com")
	v.SetDefault("voice.pin_prompt", "Please enter a pin code to join the session")
	v.SetDefault("voice.pin_retry_prompt", "Please enter the correct pin.")
	v.SetDefault("voice.pin_not_found_prompt", "No session was found for this pin. Please enter the correct pin.")

	v.SetDefault("feed.token_skew_secs", 60)

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("server.mode", "SERVER_MODE")
	v.BindEnv("server.public_url", "PUBLIC_URL")
	v.BindEnv("server.tunnel_api", "TUNNEL_API_URL")
	v.BindEnv("server.http_timeout", "HTTP_TIMEOUT")
	v.BindEnv("server.update_webhooks", "UPDATE_WEBHOOKS")
	v.BindEnv("server.snapshot_cache_size", "SNAPSHOT_CACHE_SIZE")

	v.BindEnv("video.api_key", "OPENTOK_API_KEY")
	v.BindEnv("video.api_secret", "OPENTOK_API_SECRET")
	v.BindEnv("video.base_url", "OPENTOK_API_URL")
	v.BindEnv("video.token_ttl", "OPENTOK_TOKEN_TTL")

	v.BindEnv("voice.api_key", "VONAGE_API_KEY")
	v.BindEnv("voice.api_secret", "VONAGE_API_SECRET")
	v.BindEnv("voice.app_id", "VONAGE_APP_ID")
	v.BindEnv("voice.app_name", "VONAGE_APP_NAME")
	v.BindEnv("voice.private_key_path", "VONAGE_PRIVATE_KEY_PATH")
	v.BindEnv("voice.conference_number", "CONFERENCE_NUMBER")
	v.BindEnv("voice.conference_country", "CONFERENCE_NUMBER_COUNTRY")
	v.BindEnv("voice.sip_domain", "VONAGE_SIP_DOMAIN")
	v.BindEnv("voice.bridge_caller_id", "BRIDGE_CALLER_ID")
	v.BindEnv("voice.api_base_url", "VONAGE_API_URL")
	v.BindEnv("voice.rest_base_url", "VONAGE_REST_URL")

	v.BindEnv("feed.token_secret", "FEED_TOKEN_SECRET")
	v.BindEnv("feed.token_skew_secs", "FEED_TOKEN_SKEW_SECS")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")
	c.Server.Mode = v.GetString("server.mode")
	c.Server.PublicURL = strings.TrimRight(v.GetString("server.public_url"), "/")
	c.Server.TunnelAPI = v.GetString("server.tunnel_api")
	c.Server.HTTPTimeout = v.GetDuration("server.http_timeout")
	c.Server.UpdateWebhooks = v.GetBool("server.update_webhooks")
	c.Server.SnapshotCacheSize = v.GetInt("server.snapshot_cache_size")

	c.Video.APIKey = v.GetString("video.api_key")
	c.Video.APISecret = v.GetString("video.api_secret")
	c.Video.BaseURL = strings.TrimRight(v.GetString("video.base_url"), "/")
	c.Video.TokenTTL = v.GetDuration("video.token_ttl")

	c.Voice.APIKey = v.GetString("voice.api_key")
	c.Voice.APISecret = v.GetString("voice.api_secret")
	c.Voice.AppID = v.GetString("voice.app_id")
	c.Voice.AppName = v.GetString("voice.app_name")
	c.Voice.PrivateKeyPath = v.GetString("voice.private_key_path")
	c.Voice.ConferenceCountry = strings.ToUpper(v.GetString("voice.conference_country"))
	c.Voice.ConferenceNumber = NormalizeNumber(v.GetString("voice.conference_number"), c.Voice.ConferenceCountry)
	c.Voice.SIPDomain = v.GetString("voice.sip_domain")
	c.Voice.BridgeCallerID = v.GetString("voice.bridge_caller_id")
	c.Voice.APIBaseURL = strings.TrimRight(v.GetString("voice.api_base_url"), "/")
	c.Voice.RestBaseURL = strings.TrimRight(v.GetString("voice.rest_base_url"), "/")
	c.Voice.PinPrompt = v.GetString("voice.pin_prompt")
	c.Voice.PinRetryPrompt = v.GetString("voice.pin_retry_prompt")
	c.Voice.PinNotFoundPrompt = v.GetString("voice.pin_not_found_prompt")

	c.Feed.TokenSecret = v.GetString("feed.token_secret")
	c.Feed.TokenSkewSecs = v.GetInt("feed.token_skew_secs")

	log.Info().Str("module", "config").
		Str("port", c.Server.Port).
		Str("conference_number", c.Voice.ConferenceNumber).
		Str("public_url", c.Server.PublicURL).
		Msg("config loaded")
	return c
}

// NormalizeNumber returns number in the voice provider's msisdn form (E.164
// digits without the leading plus). Numbers that cannot be parsed for the
// given region are returned with only surrounding space trimmed.
func NormalizeNumber(number, region string) string {
	number = strings.TrimSpace(number)
	if number == "" {
		return ""
	}
	parse := number
	if region == "" && !strings.HasPrefix(parse, "+") {
		parse = "+" + parse
	}
	num, err := phonenumbers.Parse(parse, region)
	if err != nil {
		return number
	}
	return strings.TrimPrefix(phonenumbers.Format(num, phonenumbers.E164), "+")
}

// DTMFURL is the absolute webhook address the voice provider posts pin input to.
func (c Config) DTMFURL() string { return c.Server.PublicURL + "/nexmo-dtmf" }

func (c Config) AnswerURL() string { return c.Server.PublicURL + "/nexmo-answer" }

func (c Config) EventURL() string { return c.Server.PublicURL + "/nexmo-events" }

func toString(v any) string { return fmt.Sprint(v) }

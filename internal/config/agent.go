package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// AgentConfig configures a call participant process (cmd/callagent).
// Env provides the defaults; command-line flags override them.
type AgentConfig struct {
	Env string

	// APIBaseURL is the root of the signaling API, e.g. http://localhost:8080.
	APIBaseURL string
	// Token is the participant's bearer access token.
	Token string

	SignalPollInterval time.Duration
	// ChatPollInterval of zero picks the role default (3s customer, 5s support).
	ChatPollInterval time.Duration

	// FreshnessWindow bounds the age of legacy transcript control tokens.
	FreshnessWindow time.Duration
	// VerifyDwell is the pause between liveness challenge steps.
	VerifyDwell time.Duration

	// ICEServers are STUN/TURN URLs handed to the WebRTC transport.
	ICEServers []string
}

const (
	DefaultSignalPollInterval = 2 * time.Second
	DefaultFreshnessWindow    = 15 * time.Second
	DefaultVerifyDwell        = 3 * time.Second
)

// LoadAgent reads AGENT_* variables. Call Validate after applying flag overrides.
func LoadAgent() (AgentConfig, error) {
	c := AgentConfig{
		Env:        strings.TrimSpace(os.Getenv("APP_ENV")),
		APIBaseURL: strings.TrimSpace(os.Getenv("AGENT_API_URL")),
		Token:      strings.TrimSpace(os.Getenv("AGENT_TOKEN")),
	}
	var errs []error
	for key, dst := range map[string]*time.Duration{
		"AGENT_SIGNAL_POLL":  &c.SignalPollInterval,
		"AGENT_CHAT_POLL":    &c.ChatPollInterval,
		"AGENT_FRESHNESS":    &c.FreshnessWindow,
		"AGENT_VERIFY_DWELL": &c.VerifyDwell,
	} {
		d, err := optionalDuration(key)
		if err != nil {
			errs = append(errs, err)
		}
		*dst = d
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_ICE_SERVERS")); v != "" {
		c.ICEServers = splitList(v)
	}
	if err := joinErrors(errs); err != nil {
		return AgentConfig{}, err
	}
	return c, nil
}

// Validate checks required values and fills in defaults.
func (c *AgentConfig) Validate() error {
	var errs []error
	if c.Env == "" {
		c.Env = "local"
	} else if !isValidEnv(c.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.Env))
	}
	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("AGENT_API_URL is required"))
	} else if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("AGENT_API_URL must be an http(s) URL, got %q", c.APIBaseURL))
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	if c.Token == "" {
		errs = append(errs, errors.New("AGENT_TOKEN is required"))
	}
	if c.SignalPollInterval <= 0 {
		c.SignalPollInterval = DefaultSignalPollInterval
	}
	if c.ChatPollInterval < 0 {
		errs = append(errs, errors.New("AGENT_CHAT_POLL must not be negative"))
	}
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = DefaultFreshnessWindow
	}
	if c.FreshnessWindow > time.Minute {
		errs = append(errs, fmt.Errorf("AGENT_FRESHNESS must be at most 1m, got %s", c.FreshnessWindow))
	}
	if c.VerifyDwell <= 0 {
		c.VerifyDwell = DefaultVerifyDwell
	}
	if len(c.ICEServers) == 0 {
		c.ICEServers = []string{"stun:stun.l.google.com:19302"}
	}
	return joinErrors(errs)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Source reads settings from the process environment, falling back to an
// optional .env file in the working directory.
type Source struct {
	v *viper.Viper
}

func NewSource(envFile string) *Source {
	v := viper.New()
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
	}
	v.AutomaticEnv()
	// Missing .env is fine; the environment is authoritative.
	_ = v.ReadInConfig()
	return &Source{v: v}
}

func (s *Source) String(key, fallback string) string {
	_ = s.v.BindEnv(key)
	v := strings.TrimSpace(s.v.GetString(key))
	if v == "" {
		return fallback
	}
	return v
}

func (s *Source) RequiredString(key string) (string, error) {
	v := s.String(key, "")
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func (s *Source) Int(key string, fallback int) (int, error) {
	raw := s.String(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got %q)", key, raw)
	}
	return n, nil
}

func (s *Source) Bool(key string, fallback bool) bool {
	raw := strings.ToLower(s.String(key, ""))
	switch raw {
	case "":
		return fallback
	case "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

func (s *Source) Float(key string, fallback float64) float64 {
	raw := s.String(key, "")
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return f
}

func (s *Source) Milliseconds(key string, fallback time.Duration) (time.Duration, error) {
	ms, err := s.Int(key, int(fallback/time.Millisecond))
	if err != nil {
		return 0, err
	}
	if ms <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// List splits a comma separated value, dropping blanks.
func (s *Source) List(key, fallback string) []string {
	var out []string
	for _, part := range strings.Split(s.String(key, fallback), ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *Source) Port(key, fallback string) (string, error) {
	v := s.String(key, fallback)
	p, err := strconv.Atoi(v)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("%s must be a valid TCP port (got %q)", key, v)
	}
	return v, nil
}

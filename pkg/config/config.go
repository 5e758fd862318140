package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the switchboard server's process-level configuration,
// loaded from environment variables (spec §6 deployment surface).
type Config struct {
	Port                    string
	LogLevel                string
	DatabaseURL             string
	SimulateOnly            bool // read from SIMULATE_ONLY and reported by the doctor command; the orchestrator does not consult it
	IdempotencyTTL          time.Duration
	UndoWindow              time.Duration
	CredentialEncryptionKey string // seeds pkg/crypto.CredentialCipher for cartridge credential blobs

	ProfilesDir string // directory of profile_<region>.yaml files, see LoadProfile
	Region      string // jurisdiction code used to select this deployment's RegionalProfile

	// Profile is the resolved RegionalProfile for Region, when ProfilesDir and
	// Region are both set and the file loads successfully. Nil otherwise, in
	// which case callers fall back to their own conservative defaults.
	Profile *RegionalProfile
}

// Load loads configuration from environment variables, falling back to
// safe local-development defaults for anything unset.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://switchboard@localhost:5432/switchboard?sslmode=disable"
	}

	idempotencyTTL := 24 * time.Hour
	if v := os.Getenv("IDEMPOTENCY_TTL_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil {
			idempotencyTTL = time.Duration(hours) * time.Hour
		}
	}

	undoWindow := 24 * time.Hour
	if v := os.Getenv("UNDO_WINDOW_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil {
			undoWindow = time.Duration(hours) * time.Hour
		}
	}

	cfg := &Config{
		Port:                    port,
		LogLevel:                logLevel,
		DatabaseURL:             dbURL,
		SimulateOnly:            os.Getenv("SIMULATE_ONLY") == "true",
		IdempotencyTTL:          idempotencyTTL,
		UndoWindow:              undoWindow,
		CredentialEncryptionKey: os.Getenv("CREDENTIAL_ENCRYPTION_KEY"),
		ProfilesDir:             os.Getenv("PROFILES_DIR"),
		Region:                  os.Getenv("REGION"),
	}

	if cfg.ProfilesDir != "" && cfg.Region != "" {
		if profile, err := LoadProfile(cfg.ProfilesDir, cfg.Region); err == nil {
			cfg.Profile = profile
		}
	}

	return cfg
}

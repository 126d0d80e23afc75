// config/config.go
package config

import (
	"context"
	"os"
	"safewalk/models"
	"safewalk/providers"
	"safewalk/services"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Environment string
	Port        string
	DatabaseURL string // empty disables persistence
	RedisURL    string // empty disables rate limiting
	JWTSecret   string
	JWTIssuer   string
	SessionTTL  time.Duration

	// Firebase Config
	FirebaseCredentials string

	// Twilio Config
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string

	// Safety Settings
	InitialSettings    models.SafetySettings
	EmergencyResetWait time.Duration
	MaxContacts        int
	SideEffectTimeout  time.Duration

	// Device channel
	AllowedOrigins     []string
	CommandRate        int // per connection per minute
	ProbeTimeout       time.Duration
	SessionGracePeriod time.Duration
	CleanupInterval    time.Duration
	SOSDebounceWindow  time.Duration
}

func Load() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", "your-super-secret-jwt-key"),
		JWTIssuer:   getEnv("JWT_ISSUER", "safewalk"),
		SessionTTL:  getEnvAsDuration("SESSION_TTL", 24*time.Hour),

		// Firebase
		FirebaseCredentials: getEnv("FIREBASE_CREDENTIALS", ""),

		// Twilio
		TwilioAccountSID:  getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:   getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioPhoneNumber: getEnv("TWILIO_PHONE_NUMBER", ""),

		// Safety settings
		InitialSettings: models.SafetySettings{
			MotionDetection:  getEnvAsBool("SAFETY_MOTION_DETECTION", false),
			AudioMonitoring:  getEnvAsBool("SAFETY_AUDIO_MONITORING", false),
			LocationTracking: getEnvAsBool("SAFETY_LOCATION_TRACKING", false),
			CameraReady:      getEnvAsBool("SAFETY_CAMERA_READY", false),
		},
		EmergencyResetWait: getEnvAsDuration("EMERGENCY_RESET_DELAY", services.DefaultEmergencyResetDelay),
		MaxContacts:        getEnvAsInt("MAX_EMERGENCY_CONTACTS", services.DefaultMaxContacts),
		SideEffectTimeout:  getEnvAsDuration("SIDE_EFFECT_TIMEOUT", services.DefaultSideEffectTimeout),

		// Device channel
		AllowedOrigins:     getEnvAsList("ALLOWED_ORIGINS"),
		CommandRate:        getEnvAsInt("WS_COMMAND_RATE", 60),
		ProbeTimeout:       getEnvAsDuration("CAPABILITY_PROBE_TIMEOUT", 3*time.Second),
		SessionGracePeriod: getEnvAsDuration("SESSION_GRACE_PERIOD", 5*time.Minute),
		CleanupInterval:    getEnvAsDuration("SESSION_CLEANUP_INTERVAL", time.Minute),
		SOSDebounceWindow:  getEnvAsDuration("SOS_DEBOUNCE_WINDOW", 3*time.Second),
	}
}

// SessionConfig maps the safety settings onto the session service
func (c *Config) SessionConfig() services.SessionConfig {
	return services.SessionConfig{
		InitialSettings:   c.InitialSettings,
		ResetDelay:        c.EmergencyResetWait,
		MaxContacts:       c.MaxContacts,
		SideEffectTimeout: c.SideEffectTimeout,
		Provider: providers.Options{
			ProbeTimeout: c.ProbeTimeout,
		},
	}
}

// InitRedis connects to Redis. It returns nil when Redis is not configured
// or not reachable.
func InitRedis(cfg *Config) *redis.Client {
	if cfg.RedisURL == "" {
		logrus.Info("Redis not configured, rate limiting disabled")
		return nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logrus.Errorf("Invalid REDIS_URL: %v", err)
		return nil
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logrus.Warnf("Redis unavailable, rate limiting disabled: %v", err)
		client.Close()
		return nil
	}

	logrus.Info("Connected to Redis")
	return client
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

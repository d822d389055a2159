package temporalx

import (
	"time"

	"github.com/yungbote/panelapp-backend/internal/platform/envutil"
)

const DefaultTaskQueue = "panelapp"

type Config struct {
	// Empty disables Temporal; jobs then run on the polling worker.
	Address   string
	Namespace string
	TaskQueue string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string

	DialTimeout time.Duration
	DialMaxWait time.Duration
	DialBackoff time.Duration
	BackoffMax  time.Duration

	AutoRegisterNamespace bool
	RetentionDays         int
	WorkerConcurrency     int
}

func (c Config) Enabled() bool { return c.Address != "" }

func (c Config) mTLS() bool {
	return c.ClientCertPath != "" || c.ClientKeyPath != "" || c.ClientCAPath != ""
}

func LoadConfig() Config {
	return Config{
		Address:   envutil.String("TEMPORAL_ADDRESS", ""),
		Namespace: envutil.String("TEMPORAL_NAMESPACE", "panelapp"),
		TaskQueue: envutil.String("TEMPORAL_TASK_QUEUE", DefaultTaskQueue),

		ClientCertPath: envutil.String("TEMPORAL_CLIENT_CERT_PATH", ""),
		ClientKeyPath:  envutil.String("TEMPORAL_CLIENT_KEY_PATH", ""),
		ClientCAPath:   envutil.String("TEMPORAL_CLIENT_CA_PATH", ""),

		DialTimeout: envutil.Millis("TEMPORAL_DIAL_TIMEOUT_MS", 5*time.Second),
		DialMaxWait: envutil.Millis("TEMPORAL_DIAL_MAX_WAIT_MS", time.Minute),
		DialBackoff: envutil.Millis("TEMPORAL_DIAL_BACKOFF_MS", 250*time.Millisecond),
		BackoffMax:  envutil.Millis("TEMPORAL_DIAL_BACKOFF_MAX_MS", 5*time.Second),

		AutoRegisterNamespace: envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false),
		RetentionDays:         envutil.Int("TEMPORAL_NAMESPACE_RETENTION_DAYS", 7),
		WorkerConcurrency:     envutil.Int("WORKER_CONCURRENCY", 4),
	}
}

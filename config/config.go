package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Debug                    bool   `envconfig:"debug"`
	Port                     int    `envconfig:"port" default:"8080"`
	Env                      string `envconfig:"env" default:"dev"`
	PostgresHost             string `envconfig:"postgres_host"`
	PostgresUser             string `envconfig:"postgres_user"`
	PostgresDB               string `envconfig:"postgres_db"`
	PostgresPort             int    `envconfig:"postgres_port" default:"5432"`
	PostgresPassword         string `envconfig:"postgres_password"`
	JWTSecret                string `envconfig:"jwt_secret"`
	AccessControlAllowOrigin string `envconfig:"access_control_allow_origin"`

	// realtime
	TypingSweepInterval time.Duration `envconfig:"typing_sweep_interval" default:"30s"`
	PersistTimeout      time.Duration `envconfig:"persist_timeout" default:"5s"`
	SocketSendBuffer    int           `envconfig:"socket_send_buffer" default:"64"`
	SocketEventRate     float64       `envconfig:"socket_event_rate" default:"20"`
	SocketEventBurst    int           `envconfig:"socket_event_burst" default:"40"`
	ReportRateLimit     uint          `envconfig:"report_rate_limit" default:"5"`

	// attachments
	AWSRegion          string `envconfig:"aws_region"`
	AWSBucket          string `envconfig:"aws_bucket"`
	AWSAccessKeyID     string `envconfig:"aws_access_key_id"`
	AWSSecretAccessKey string `envconfig:"aws_secret_access_key"`
	MaxAttachmentSize  int64  `envconfig:"max_attachment_size" default:"10485760"`

	FirebaseCredentialsFile string `envconfig:"firebase_credentials_file"`
}

func Load() (*Config, error) {
	env := os.Getenv("GIN_MODE")
	if env != "release" {
		if err := godotenv.Load("./.env"); err != nil {
			log.Printf("couldn't load env vars: %v", err)
		}
	}

	c := &Config{}
	err := envconfig.Process("citizenchat", c)
	if err != nil {
		return nil, err
	}
	return c, nil
}

package internal

import (
	"fmt"
	"time"
)

type Config struct {
	Host              string        `env:"HOST,required=true"`
	Port              int           `env:"PORT,required=true"`
	LogLevel          string        `env:"LOG_LEVEL,required=true"`
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true"`
	ChatroomFilepath  string        `env:"CHATROOM_FILEPATH"`
	CharReplacement   string        `env:"CHARACTER_REPLACEMENT,required=true"`
	SessionBufferSize int           `env:"SESSION_BUFFER_SIZE,required=true"`
	DeliveryTimeout   time.Duration `env:"DELIVERY_TIMEOUT,required=true"`
	FanoutConcurrency int           `env:"FANOUT_CONCURRENCY,required=true"`
	MetricInterval    time.Duration `env:"METRIC_INTERVAL,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,required=true"`
	JWTSecret         string        `env:"JWT_SECRET,required=true"`
	LimitMessages     *int          `env:"LIMIT_MESSAGES"`
	AdminUsername     string        `env:"ADMIN_USERNAME"`
	AdminPassword     string        `env:"ADMIN_PASSWORD"`
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}

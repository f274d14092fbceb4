package gamebloc

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/putto11262002/gamebloc/core"

	"github.com/spf13/viper"
)

type Mode string

const (
	DevMode  Mode = "dev"
	ProdMode Mode = "prod"
)

type Config struct {
	// Port is the Port number to listen on. The default is 8080.
	Port int `validate:"required,port"`
	// Hostname is the Hostname to listen on. The default is 0.0.0.0.
	Hostname string `validate:"required"`
	Mode     Mode   `validate:"oneof=dev prod"`
	// AllowedOrigins is a list of origins that are allowed to connect to the server.
	// The default is ["*"].
	AllowedOrigins []string
	Log            struct {
		Level slog.Level
	}
	Auth struct {
		// Secret is the Secret key used to sign JWT tokens.
		// The secret must be a base64 encoded string. The default is a random 32 byte string.
		Secret   Base64Encoded `validate:"required"`
		TokenExp time.Duration `validate:"gt=0"`
	}
	SQLite struct {
		// File is the path to the SQLite database file.
		File string `validate:"required"`
		// Mode is passed to the driver as is, memory is only useful for tests.
		Mode        string `validate:"oneof=ro rw rwc memory"`
		JournalMode string
	}
	TLS struct {
		Crt string `validate:"required_with=Key"`
		Key string `validate:"required_with=Crt"`
	}
	WS struct {
		PingPeriod     time.Duration `validate:"gt=0"`
		PongWait       time.Duration `validate:"gtfield=PingPeriod"`
		WriteWait      time.Duration `validate:"gt=0"`
		MaxMessageSize int64         `validate:"gt=0"`
		SendBuffer     int           `validate:"gt=0"`
	}
	Relay struct {
		// TypingTimeout clears typing indicators that are never stopped. Zero disables it.
		TypingTimeout time.Duration `validate:"gte=0"`
		// TrustPayloadIdentity lets anonymous connections name themselves in event payloads.
		TrustPayloadIdentity bool
	}
	valid bool
}

type Base64Encoded []byte

func (b *Base64Encoded) UnmarshalText(text []byte) error {
	dec, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("base64 decode: %w", err)
	}
	*b = dec
	return nil
}

func setDefaults(v *viper.Viper) error {
	v.SetDefault("port", 8080)
	v.SetDefault("hostname", "0.0.0.0")
	v.SetDefault("mode", string(DevMode))
	v.SetDefault("allowedorigins", []string{"*"})
	v.SetDefault("log.level", "info")

	// generate a random secret key
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generate secret: %w", err)
	}
	v.SetDefault("auth.secret", base64.StdEncoding.EncodeToString(secret))
	v.SetDefault("auth.tokenexp", "24h")

	v.SetDefault("sqlite.file", "./gamebloc.db")
	v.SetDefault("sqlite.mode", "rwc")
	v.SetDefault("sqlite.journalmode", "WAL")

	v.SetDefault("ws.pingperiod", core.DefaultWSConfig.PingPeriod.String())
	v.SetDefault("ws.pongwait", core.DefaultWSConfig.PongWait.String())
	v.SetDefault("ws.writewait", core.DefaultWSConfig.WriteWait.String())
	v.SetDefault("ws.maxmessagesize", core.DefaultWSConfig.MaxMessageSize)
	v.SetDefault("ws.sendbuffer", core.DefaultWSConfig.SendBuffer)

	v.SetDefault("relay.typingtimeout", "0s")
	v.SetDefault("relay.trustpayloadidentity", true)
	return nil
}

func decodeConfig(v *viper.Viper) (*Config, error) {
	config := &Config{}
	if err := v.Unmarshal(config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		),
	); err != nil {
		// defer error to validation step
		return config, nil
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	err := validate.Struct(c)
	if err != nil {
		return err
	}
	c.valid = true
	return nil
}

func (c *Config) wsConfig() core.WSConfig {
	return core.WSConfig{
		PingPeriod:     c.WS.PingPeriod,
		PongWait:       c.WS.PongWait,
		WriteWait:      c.WS.WriteWait,
		MaxMessageSize: c.WS.MaxMessageSize,
		SendBuffer:     c.WS.SendBuffer,
	}
}

func (c *Config) allowsOrigin(origin string) bool {
	return slices.Contains(c.AllowedOrigins, "*") || slices.Contains(c.AllowedOrigins, origin)
}

func FormatValidationErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	trans, _ := uniTrans.GetTranslator("en")
	translated := verrs.Translate(trans)

	msgs := slices.Sorted(maps.Values(translated))
	return strings.Join(msgs, "\n") + "\n"
}

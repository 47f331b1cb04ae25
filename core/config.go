package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	DatabaseConfig struct {
		Driver        string // postgres | memory
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		MaxOpenConns  int
		MaxIdleConns  int
	}

	ServerConfig struct {
		Address            string
		DebugAddress       string
		Host               string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
		DisableReqLogs     bool
	}

	RedisConfig struct {
		URL       string
		ReportTTL time.Duration
	}

	AMQPConfig struct {
		URL      string
		Exchange string
	}

	BillingConfig struct {
		InstallmentMode   string // flat | split
		OverpaymentPolicy string // allow | reject
		MonthlyDueDay     int
		InstallmentCount  int
		AssignWorkers     int
	}

	Config struct {
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		FrontendBaseURL  string
		DefaultFromEmail string
		SendgridApiKey   string
		RollbarToken     string

		Database DatabaseConfig
		Server   ServerConfig
		Redis    RedisConfig
		AMQP     AMQPConfig
		Billing  BillingConfig
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c *Config) DefaultFromAddress() mail.Address {
	addr, err := mail.ParseAddress(c.DefaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: c.DefaultFromEmail}
	}
	return *addr
}

// NewConfig loads the app config from defaults, the optional `config/.env.<env>` file & the environment.
// Env vars are prefixed with the upper-cased env name, e.g: PROD_DATABASE_HOST.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "Bursar")
	v.SetDefault("secretKey", "hj8$c-3ml=k0@u(z^x5pe!yq7w#t%1rbv9fa2_gno+s6di4")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "Bursar <noreply@localhost>")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugAddress", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.disableReqLogs", false)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "bursar")
	v.SetDefault("database.user", "bursar")
	v.SetDefault("database.password", "bursar")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.maxOpenConns", 20)
	v.SetDefault("database.maxIdleConns", 5)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.reportTTL", 5*time.Minute)

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "bursar.events")

	v.SetDefault("billing.installmentMode", "flat")
	v.SetDefault("billing.overpaymentPolicy", "allow")
	v.SetDefault("billing.monthlyDueDay", 10)
	v.SetDefault("billing.installmentCount", 12)
	v.SetDefault("billing.assignWorkers", 4)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	case "QA", "PROD":
		v.SetDefault("debug", false)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	if wd, err := os.Getwd(); err == nil {
		dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
			}
		} else if !os.IsNotExist(err) {
			log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
		}
	}
	v.AutomaticEnv()

	host, _ := os.Hostname()

	return &Config{
		Env:              env,
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		AppName:          v.GetString("appName"),
		SecretKey:        v.GetString("secretKey"),
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		DefaultFromEmail: v.GetString("defaultFromEmail"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		Database: DatabaseConfig{
			Driver:        v.GetString("database.driver"),
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
			MaxOpenConns:  v.GetInt("database.maxOpenConns"),
			MaxIdleConns:  v.GetInt("database.maxIdleConns"),
		},
		Server: ServerConfig{
			Address:            v.GetString("server.address"),
			DebugAddress:       v.GetString("server.debugAddress"),
			Host:               host,
			ShutdownTimeout:    v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: v.GetDuration("server.jwtExpirationDelta"),
			DisableReqLogs:     v.GetBool("server.disableReqLogs"),
		},
		Redis: RedisConfig{
			URL:       v.GetString("redis.url"),
			ReportTTL: v.GetDuration("redis.reportTTL"),
		},
		AMQP: AMQPConfig{
			URL:      v.GetString("amqp.url"),
			Exchange: v.GetString("amqp.exchange"),
		},
		Billing: BillingConfig{
			InstallmentMode:   v.GetString("billing.installmentMode"),
			OverpaymentPolicy: v.GetString("billing.overpaymentPolicy"),
			MonthlyDueDay:     v.GetInt("billing.monthlyDueDay"),
			InstallmentCount:  v.GetInt("billing.installmentCount"),
			AssignWorkers:     v.GetInt("billing.assignWorkers"),
		},
	}
}

// NewTestConfig returns the config used by tests: no external services, debug off, test mode on.
func NewTestConfig() *Config {
	conf := NewConfig()
	conf.Env = "TEST"
	conf.Debug = false
	conf.TestMode = true
	conf.Database.Driver = "memory"
	conf.Redis.URL = ""
	conf.AMQP.URL = ""
	return conf
}

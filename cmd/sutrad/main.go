// cmd/sutrad is the server entrypoint: it starts the TCP wire protocol
// listener (internal/wire) and the admin HTTP surface (internal/adminhttp)
// over one internal/engine.Engine.
//
// Configuration layers three ways, lowest priority first: a YAML config
// file (--config / SUTRA_CONFIG_FILE), environment variables, then flags.
//
// Example:
//
//	./sutrad --addr :7420 --admin-addr :7421 --data-dir /var/sutra
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"

	"sutragraph/internal/adminhttp"
	"sutragraph/internal/autonomy"
	"sutragraph/internal/engine"
	"sutragraph/internal/hnsw"
	"sutragraph/internal/namespace"
	"sutragraph/internal/reconciler"
	"sutragraph/internal/sutralog"
	"sutragraph/internal/wal"
	"sutragraph/internal/wire"
)

// fileConfig is the optional YAML config file shape. Any field left zero
// falls through to the environment/flag default chain below.
type fileConfig struct {
	Addr                      string  `yaml:"addr"`
	AdminAddr                 string  `yaml:"admin_addr"`
	DataDir                   string  `yaml:"data_dir"`
	AuthToken                 string  `yaml:"auth_token"`
	WriteLogCapacity          int     `yaml:"write_log_capacity"`
	MinAssociationConfidence  float64 `yaml:"min_association_confidence"`
	MaxAssociationsPerConcept int     `yaml:"max_associations_per_concept"`
	RateLimitCapacity         float64 `yaml:"rate_limit_capacity"`
	RateLimitRefill           float64 `yaml:"rate_limit_refill"`
	TLSEnabled                bool    `yaml:"tls_enabled"`
	TLSCert                   string  `yaml:"tls_cert"`
	TLSKey                    string  `yaml:"tls_key"`
}

func loadFileConfig(path string) fileConfig {
	var fc fileConfig
	if path == "" {
		return fc
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fc
	}
	_ = yaml.Unmarshal(data, &fc)
	return fc
}

func main() {
	fc := loadFileConfig(earlyConfigPath())

	flag.String("config", envOr("SUTRA_CONFIG_FILE", ""), "optional YAML config file; flags and env vars still take priority")
	addr := flag.String("addr", envOr("SUTRA_ADDR", orDefault(fc.Addr, ":7420")), "wire protocol listen address")
	adminAddr := flag.String("admin-addr", envOr("SUTRA_ADMIN_ADDR", orDefault(fc.AdminAddr, ":7421")), "admin HTTP listen address")
	dataDir := flag.String("data-dir", envOr("SUTRA_DATA_DIR", orDefault(fc.DataDir, "/var/lib/sutragraph")), "root directory for namespace state")
	authToken := flag.String("auth-token", envOr("SUTRA_AUTH_TOKEN", fc.AuthToken), "shared secret clients must present; empty disables auth")

	writeLogCapacity := flag.Int("write-log-capacity", envInt("SUTRA_WRITE_LOG_CAPACITY", orDefaultInt(fc.WriteLogCapacity, 50_000)), "bounded write log capacity per namespace")
	minAssocConfidence := flag.Float64("min-association-confidence", envFloat("SUTRA_MIN_ASSOCIATION_CONFIDENCE", orDefaultFloat(fc.MinAssociationConfidence, 0.1)), "associations below this confidence are dropped at insert time")
	maxAssocPerConcept := flag.Int("max-associations-per-concept", envInt("SUTRA_MAX_ASSOCIATIONS_PER_CONCEPT", orDefaultInt(fc.MaxAssociationsPerConcept, 64)), "outgoing associations kept per concept; weakest evicted past this cap")

	rateCapacity := flag.Float64("rate-limit-capacity", envFloat("SUTRA_RATE_LIMIT_CAPACITY", orDefaultFloat(fc.RateLimitCapacity, 100)), "token bucket capacity per client")
	rateRefill := flag.Float64("rate-limit-refill", envFloat("SUTRA_RATE_LIMIT_REFILL", orDefaultFloat(fc.RateLimitRefill, 50)), "token bucket refill rate per second per client")

	tlsEnabled := flag.Bool("tls-enabled", os.Getenv("SUTRA_TLS_ENABLED") == "true" || fc.TLSEnabled, "wrap the wire listener in TLS")
	tlsCert := flag.String("tls-cert", envOr("SUTRA_TLS_CERT", fc.TLSCert), "PEM certificate path")
	tlsKey := flag.String("tls-key", envOr("SUTRA_TLS_KEY", fc.TLSKey), "PEM private key path")

	flag.Parse()

	log := sutralog.New("sutrad")

	cfg := engine.Config{
		Namespace: namespace.Config{
			DataDir:          *dataDir,
			WriteLogCapacity: *writeLogCapacity,
			FsyncPolicy:      wal.FsyncAlways,
			GroupCommitMs:    5 * time.Millisecond,
			HNSW:             hnsw.Config{},
			Reconciler: reconciler.Config{
				MinIntervalMs:             5,
				MaxIntervalMs:             200,
				InitialIntervalMs:         20,
				MemoryThreshold:           1000,
				TargetLatencyMs:           10,
				FlushEveryCycles:          50,
				MinBatch:                  16,
				MaxBatch:                  2048,
				MinAssociationConfidence:  float32(*minAssocConfidence),
				MaxAssociationsPerConcept: *maxAssocPerConcept,
			},
		},
		Decay:                    autonomy.DecayConfig{},
		Reasoning:                autonomy.ReasoningConfig{},
		SelfMonitor:              autonomy.SelfMonitorConfig{},
		RateLimitCapacity:        *rateCapacity,
		RateLimitRefillPerSecond: *rateRefill,
	}

	eng := engine.New(cfg)
	defer eng.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var tlsConfig *tls.Config
	if *tlsEnabled {
		cert, err := tls.LoadX509KeyPair(*tlsCert, *tlsKey)
		if err != nil {
			log.Fatal().Err(err).Msg("load TLS certificate failed")
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	wireServer := wire.NewServer(wire.ServerConfig{
		Addr:      *addr,
		AuthToken: *authToken,
		TLSConfig: tlsConfig,
	}, eng)

	go func() {
		if err := wireServer.Serve(ctx); err != nil {
			log.Error().Err(err).Msg("wire server exited")
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	adminLog := sutralog.New("adminhttp")
	router.Use(adminhttp.Logger(adminLog), adminhttp.Recovery(adminLog))
	adminhttp.NewHandler(eng).Register(router)

	go func() {
		if err := router.Run(*adminAddr); err != nil {
			log.Error().Err(err).Msg("admin http server exited")
		}
	}()

	log.Info().Str("wire_addr", *addr).Str("admin_addr", *adminAddr).Str("data_dir", *dataDir).Msg("sutrad started")

	<-ctx.Done()
	log.Info().Msg("shutting down")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orDefaultInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func orDefaultFloat(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}

// earlyConfigPath scans argv for --config/-config directly, since the
// config file must be loaded before the rest of the flags it supplies
// defaults for are declared.
func earlyConfigPath() string {
	args := os.Args[1:]
	for i, a := range args {
		switch {
		case a == "--config" || a == "-config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case len(a) > 9 && a[:9] == "--config=":
			return a[9:]
		case len(a) > 8 && a[:8] == "-config=":
			return a[8:]
		}
	}
	return os.Getenv("SUTRA_CONFIG_FILE")
}

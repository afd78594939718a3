package main

import (
	"crypto/tls"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tracker-client/api"
	"tracker-client/client"
	"tracker-client/gateway"
	"tracker-client/store"
)

func main() {
	debug := false
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		debug = true
		log.SetLevel(log.DebugLevel)
	}
	endpoint := os.Getenv("TRACKER_API_ENDPOINT")
	if endpoint == "" {
		log.Fatal("missing TRACKER_API_ENDPOINT")
	}

	requestTimeout := 30 * time.Second
	if v := os.Getenv("TRACKER_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid TRACKER_REQUEST_TIMEOUT: %v", err)
		}
		requestTimeout = d
	}

	logger := log.New()
	if debug {
		logger.SetLevel(log.DebugLevel)
	}

	var gw gateway.Gateway = gateway.NewClient(endpoint, &http.Client{Timeout: requestTimeout}, logger)

	var deduper api.Deduper
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		redisOpts, err := redis.ParseURL(redisConn)
		if err != nil {
			parts := strings.Split(redisConn, ",")
			redisOpts = &redis.Options{Addr: parts[0]}
			for _, p := range parts[1:] {
				kv := strings.SplitN(p, "=", 2)
				if len(kv) != 2 {
					continue
				}
				switch strings.ToLower(kv[0]) {
				case "password":
					redisOpts.Password = kv[1]
				case "ssl":
					if strings.ToLower(kv[1]) == "true" {
						redisOpts.TLSConfig = &tls.Config{}
					}
				}
			}
		}
		rc := redis.NewClient(redisOpts)

		cacheTTL := 30 * time.Second
		if v := os.Getenv("CACHE_TTL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				log.Fatalf("invalid CACHE_TTL: %v", err)
			}
			cacheTTL = d
		}
		gw = gateway.NewCache(gw, rc, cacheTTL)

		dedupeTTL := 24 * time.Hour
		if v := os.Getenv("DEDUPER_TTL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				log.Fatalf("invalid DEDUPER_TTL: %v", err)
			}
			dedupeTTL = d
		}
		deduper = api.NewRedisDeduper(rc, dedupeTTL)
	}

	session := client.New(store.New(), gw, logger)
	defer session.Close()

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, "Idempotency-Key"},
	}))

	api.Register(e, session, deduper, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

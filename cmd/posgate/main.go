package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"posgate/cmd/posgate/cmds"
	"posgate/internal/api"
	"posgate/internal/backends"
	"posgate/internal/flow"
	"posgate/internal/ports"
	"posgate/internal/pub"
	"posgate/internal/reqcache"
	"posgate/internal/types"
	"posgate/internal/upstream"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const usage = `usage:
  posgate [serve]
  posgate routes put <file.yml>
  posgate routes get <route_id>
  posgate routes list
  posgate routes delete <route_id>`

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Info("The .env file not found.")
	}
	if lvl, err := log.ParseLevel(backends.Getenv("LOG_LEVEL", "info")); err == nil {
		log.SetLevel(lvl)
	}

	ctx := context.Background()
	args := os.Args[1:]
	if len(args) == 0 || args[0] == "serve" {
		if err := serve(ctx); err != nil {
			log.Fatal(err)
		}
		return
	}
	if args[0] != "routes" || len(args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err := routes(ctx, args[1:]); err != nil {
		log.Fatal(err)
	}
}

func routes(ctx context.Context, args []string) error {
	store, err := backends.RouteBackendFromEnv(ctx)
	if err != nil {
		return err
	}
	switch {
	case args[0] == "put" && len(args) == 2:
		return cmds.PutRoutes(ctx, store, args[1])
	case args[0] == "get" && len(args) == 2:
		return cmds.GetRoute(ctx, store, args[1], os.Stdout)
	case args[0] == "list" && len(args) == 1:
		return cmds.ListRoutes(ctx, store, os.Stdout)
	case args[0] == "delete" && len(args) == 2:
		return cmds.DeleteRoute(ctx, store, args[1])
	}
	fmt.Fprintln(os.Stderr, usage)
	os.Exit(2)
	return nil
}

func serve(ctx context.Context) error {
	port, err := strconv.Atoi(backends.Getenv("PORT", "8080"))
	if err != nil {
		return fmt.Errorf("invalid PORT: %w", err)
	}
	upstreamURL := os.Getenv("UPSTREAM_URL")
	if upstreamURL == "" {
		return fmt.Errorf("UPSTREAM_URL is required")
	}
	upstreamTimeout, err := backends.GetenvMillis("UPSTREAM_TIMEOUT_MS", 10*time.Second)
	if err != nil {
		return err
	}
	defaultTTL, err := backends.GetenvMillis("CACHE_DEFAULT_TTL_MS", reqcache.DefaultTTL)
	if err != nil {
		return err
	}
	sweepEvery, err := backends.GetenvMillis("CACHE_SWEEP_INTERVAL_MS", time.Minute)
	if err != nil {
		return err
	}
	routeTTL, err := backends.GetenvMillis("ROUTE_CACHE_TTL_MS", 30*time.Second)
	if err != nil {
		return err
	}

	up, err := upstream.New(upstreamURL, upstreamTimeout)
	if err != nil {
		return err
	}
	routeStore, err := backends.RouteBackendFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize route store: %w", err)
	}
	valueStore, err := backends.ValueBackendFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize value store: %w", err)
	}
	publisher, err := publisherFromEnv(ctx)
	if err != nil {
		return err
	}

	responses := reqcache.New[*types.Response](reqcache.Config{DefaultTTL: defaultTTL, CleanupInterval: sweepEvery})
	defer func() { _ = responses.Close() }()
	routeCache := reqcache.New[[]types.RoutePolicy](reqcache.Config{})
	defer func() { _ = routeCache.Close() }()

	h := api.NewHandler(flow.Deps{
		Responses:  responses,
		Routes:     routeCache,
		RouteStore: routeStore,
		Values:     valueStore,
		Upstream:   up,
		RouteTTL:   routeTTL,
	}, publisher, api.Options{
		TopicArn:   os.Getenv("INVALIDATION_TOPIC_ARN"),
		InstanceID: os.Getenv("INSTANCE_ID"),
	})

	stop, done := api.RunServerInterruptible(port, h)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-done:
		return err
	case s := <-sig:
		log.WithField("signal", s.String()).Info("shutting down")
		close(stop)
		return <-done
	}
}

// publisherFromEnv returns nil when no invalidation topic is configured.
func publisherFromEnv(ctx context.Context) (ports.Publisher, error) {
	if os.Getenv("INVALIDATION_TOPIC_ARN") == "" {
		return nil, nil
	}
	var snsEndpoint *string
	if se := os.Getenv("SNS_ENDPOINT"); se != "" {
		snsEndpoint = aws.String(se)
	}
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	snsClient := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if snsEndpoint != nil {
			o.BaseEndpoint = snsEndpoint
			if o.Region == "" {
				o.Region = "us-east-1"
			}
			o.Credentials = credentials.NewStaticCredentialsProvider("test", "test", "")
		}
	})
	return pub.NewSNS(snsClient), nil
}

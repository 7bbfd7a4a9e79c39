package cli

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vietddude/streamretry/internal/core/config"
	"github.com/vietddude/streamretry/internal/core/domain"
	redisclient "github.com/vietddude/streamretry/internal/infra/redis"
	"github.com/vietddude/streamretry/internal/infra/transport"
	"github.com/vietddude/streamretry/internal/proxy"
	"github.com/vietddude/streamretry/internal/retry/budget"
	"github.com/vietddude/streamretry/internal/retry/filter"
	"github.com/vietddude/streamretry/internal/retry/stats"
)

// buildRoutes wires one retry filter per configured route. The returned
// func closes upstream connections and the shared Redis client.
func buildRoutes(cfg *config.AppConfig, reg prometheus.Registerer, logger *slog.Logger) ([]proxy.Route, func(), error) {
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("Close failed", "error", err)
			}
		}
	}

	metrics := stats.NewMetrics(reg)

	var rdb *redisclient.Client
	redisClient := func() (*redisclient.Client, error) {
		if rdb != nil {
			return rdb, nil
		}
		c, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		rdb = c
		closers = append(closers, c.Close)
		return rdb, nil
	}

	routes := make([]proxy.Route, 0, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		routeLogger := logger.With("route", rc.Name)

		var next domain.Handler
		switch rc.Upstream.Protocol {
		case "grpc":
			conn, err := transport.DialGRPC(rc.Upstream.Endpoint)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("route %s: %w", rc.Name, err)
			}
			closers = append(closers, conn.Close)
			next = transport.NewGRPCHandler(conn, routeLogger)
		default:
			next = transport.NewHTTPHandler(rc.Upstream.Endpoint, rc.Upstream.Timeout, routeLogger)
		}

		b, err := buildBudget(rc, redisClient, routeLogger)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("route %s: %w", rc.Name, err)
		}

		rules, err := rc.Retry.Classifier.Rules()
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("route %s: %w", rc.Name, err)
		}

		f, err := filter.New(next, filter.Config{
			Route:                 rc.Name,
			RequestBufferSize:     rc.Retry.RequestBufferSize,
			ResponseBufferSize:    rc.Retry.ResponseBufferSize,
			ClassificationTimeout: rc.Retry.Deadline(),
			Backoff:               rc.Retry.Backoff.Schedule(),
			Budget:                b,
			Classifier:            rules.Classifier(),
			Stats:                 metrics.ForRoute(rc.Name),
			Logger:                logger,
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("route %s: %w", rc.Name, err)
		}

		routes = append(routes, proxy.Route{Name: rc.Name, Prefix: rc.Prefix, Handler: f})
		routeLogger.Debug("Route ready",
			"prefix", rc.Prefix,
			"upstream", rc.Upstream.Endpoint,
			"protocol", rc.Upstream.Protocol,
			"budget", rc.Retry.Budget.Type,
		)
	}

	return routes, closeAll, nil
}

func buildBudget(rc config.RouteConfig, redisClient func() (*redisclient.Client, error), logger *slog.Logger) (budget.Budget, error) {
	bc := rc.Retry.Budget
	switch bc.Type {
	case "infinite":
		return budget.Infinite(), nil
	case "empty":
		return budget.Empty(), nil
	case "redis":
		c, err := redisClient()
		if err != nil {
			return nil, err
		}
		return budget.NewRedisBudget(c, budget.RedisConfig{
			Route:   rc.Name,
			Tokens:  bc.Tokens(),
			Timeout: bc.Timeout,
		}, logger), nil
	default:
		return budget.NewTokenBudget(bc.Tokens()), nil
	}
}

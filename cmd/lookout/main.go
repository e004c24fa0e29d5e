package main

import (
	"context"
	"strings"

	"github.com/Sendo-labs/leaderboard/internal/handlers"
	"github.com/Sendo-labs/leaderboard/internal/ingest"
	"github.com/Sendo-labs/leaderboard/internal/linkproof"
	"github.com/Sendo-labs/leaderboard/internal/provider/github"
	"github.com/Sendo-labs/leaderboard/internal/provider/xapi"
	"github.com/Sendo-labs/leaderboard/internal/scanner"
	"github.com/Sendo-labs/leaderboard/internal/scoring"
	"github.com/Sendo-labs/leaderboard/internal/store"
	"github.com/Sendo-labs/leaderboard/pkg/config"
	"github.com/Sendo-labs/leaderboard/pkg/database"
	"github.com/Sendo-labs/leaderboard/pkg/logging"
	"github.com/Sendo-labs/leaderboard/pkg/monitoring"
	"github.com/Sendo-labs/leaderboard/pkg/server"
	"github.com/Sendo-labs/leaderboard/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("lookout")

	// Load environment variables
	config.LoadEnv(logger)

	buildInfo := version.GetInfo()
	logger.WithFields(logging.Fields{
		"version":    buildInfo.Version,
		"commit":     version.GetShortCommit(),
		"build_date": buildInfo.BuildDate,
	}).Info("Starting Lookout (Contributor Leaderboard Ingestion and Scoring)")

	linkSecret := config.RequireEnv("LINKPROOF_SECRET")
	trackedHandle := config.RequireEnv("TRACKED_HANDLE")
	dbURL := config.RequireEnv("DATABASE_URL")

	// === Database Connection ===
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	leaderboardStore := store.NewStore(db)

	// === Upstream Clients ===
	githubClient := github.NewClient(config.GetEnv("GITHUB_TOKEN", ""))

	xAPIURL := config.GetEnv("X_API_URL", "https://api.twitterapi.io")
	xClient := xapi.NewClient(xAPIURL, config.RequireEnv("X_API_TOKEN"))

	// === Linking Proof ===
	verifier, err := linkproof.NewVerifier(linkSecret)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize linking proof verifier")
	}

	profileScanner := scanner.New(githubClient, verifier, logger)

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("lookout", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("lookout", version.Version, version.GitCommit)

	runs, posts, duration := metricsCollector.CreateIngestionMetrics()
	scanProfiles, linkedGauge := metricsCollector.CreateScanMetrics()
	ingestionMetrics := &ingest.Metrics{
		Runs:         runs,
		Posts:        posts,
		Duration:     duration,
		ScanProfiles: scanProfiles,
		LinkedGauge:  linkedGauge,
	}

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("x_api", monitoring.HTTPServiceHealthCheck("x_api", xAPIURL))
	healthChecker.AddCheck("linkproof_secret", monitoring.ConfigurationHealthCheck(map[string]string{
		"LINKPROOF_SECRET": linkSecret,
	}))

	// === Ingestion Pipeline ===
	ingestConfig := ingest.Config{
		TrackedHandle:  trackedHandle,
		BrandTags:      splitTags(config.GetEnv("BRAND_HASHTAGS", "")),
		ExcludeReplies: config.GetEnvBool("SEARCH_EXCLUDE_REPLIES", false),
		MaxPages:       config.GetEnvInt("SEARCH_MAX_PAGES", 5),
		PageDelay:      config.GetEnvDuration("SEARCH_PAGE_DELAY", 0),
		Scan: scanner.Options{
			BatchSize:  config.GetEnvInt("SCAN_BATCH_SIZE", 10),
			BatchPause: config.GetEnvDuration("SCAN_BATCH_PAUSE", 0),
		},
	}
	orchestrator := ingest.New(leaderboardStore, profileScanner, xClient, ingestConfig, logger, ingestionMetrics)

	worker := ingest.NewWorker(orchestrator, config.GetEnvDuration("INGEST_INTERVAL", 0), logger)
	go worker.Start(context.Background())

	// === Scoring ===
	scoringConfig := scoringFromEnv()

	// === HTTP Server ===
	handlers.Init(leaderboardStore, verifier, worker, scoringConfig, logger)

	router := server.SetupServiceRouter(logger, "lookout", healthChecker, metricsCollector)

	router.POST("/api/ingestion/runs", handlers.TriggerIngestionRun)
	router.GET("/api/ingestion/runs/latest", handlers.GetLatestIngestionRun)
	router.GET("/api/users/:username/score", handlers.GetUserScore)
	router.GET("/api/users/:username/linked-account", handlers.GetLinkedAccount)
	router.GET("/api/leaderboard", handlers.GetLeaderboard)
	router.POST("/api/linking/token", handlers.IssueLinkingToken)

	serverConfig := server.DefaultConfig("lookout", "18090")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
}

// scoringFromEnv starts from the reference scoring configuration and
// applies any environment overrides
func scoringFromEnv() scoring.Config {
	cfg := scoring.DefaultConfig()

	cfg.Base.Post = config.GetEnvFloat("SCORING_POINTS_POST", cfg.Base.Post)
	cfg.Base.Quote = config.GetEnvFloat("SCORING_POINTS_QUOTE", cfg.Base.Quote)
	cfg.Base.Reply = config.GetEnvFloat("SCORING_POINTS_REPLY", cfg.Base.Reply)
	cfg.Base.Repost = config.GetEnvFloat("SCORING_POINTS_REPOST", cfg.Base.Repost)

	cfg.PostMultipliers.MentionsHandle = config.GetEnvFloat("SCORING_MULT_MENTION", cfg.PostMultipliers.MentionsHandle)
	cfg.PostMultipliers.UsesHashtag = config.GetEnvFloat("SCORING_MULT_HASHTAG", cfg.PostMultipliers.UsesHashtag)
	cfg.PostMultipliers.HasMedia = config.GetEnvFloat("SCORING_MULT_MEDIA", cfg.PostMultipliers.HasMedia)

	cfg.Daily.MaxPostsPerDay = config.GetEnvInt("SCORING_DAILY_MAX_POSTS", cfg.Daily.MaxPostsPerDay)
	cfg.Daily.DiminishingReturnsThreshold = config.GetEnvInt("SCORING_DAILY_THRESHOLD", cfg.Daily.DiminishingReturnsThreshold)
	cfg.Daily.DiminishingReturnsPenalty = config.GetEnvFloat("SCORING_DAILY_PENALTY", cfg.Daily.DiminishingReturnsPenalty)
	cfg.Daily.MaxPointsPerDay = config.GetEnvFloat("SCORING_DAILY_MAX_POINTS", cfg.Daily.MaxPointsPerDay)

	return cfg
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	return tags
}

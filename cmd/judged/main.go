// judged is the judging and ranking daemon: it accepts submissions over
// HTTP, executes them in the sandbox pool and serves contest leaderboards.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql"

	"rankoj/internal/common/cache"
	"rankoj/internal/common/mq"
	"rankoj/internal/common/storage"
	"rankoj/internal/judge/contest"
	"rankoj/internal/judge/dispatch"
	"rankoj/internal/judge/problem"
	"rankoj/internal/judge/repository"
	"rankoj/internal/judge/runner"
	"rankoj/internal/judge/scoring"
	"rankoj/internal/judge/server"
	"rankoj/pkg/utils/logger"
)

const (
	defaultConfigPath      = "configs/judged.yaml"
	defaultShutdownTimeout = 30 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	var producer mq.Producer
	if len(appCfg.Kafka.Brokers) > 0 {
		kafkaProducer, err := mq.NewKafkaProducer(appCfg.Kafka)
		if err != nil {
			logger.Error(context.Background(), "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = kafkaProducer.Close()
		}()
		producer = kafkaProducer
	}

	var archive *repository.SourceArchive
	if appCfg.MinIO.Endpoint != "" {
		objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			logger.Error(context.Background(), "init minio failed", zap.Error(err))
			return
		}
		archive = repository.NewSourceArchive(objStorage, appCfg.Judge.SourceBucket)
	}

	var logRepo repository.SubmissionLogModel
	if appCfg.Mysql.DataSource != "" {
		conn := sqlx.NewMysql(appCfg.Mysql.DataSource)
		logRepo = repository.NewSubmissionLogModel(conn)
	}

	profiles, err := runner.NewProfileRegistry(appCfg.Languages)
	if err != nil {
		logger.Error(context.Background(), "init language profiles failed", zap.Error(err))
		return
	}

	engine, err := runner.NewEngine(runner.EngineConfig{
		HelperPath:    appCfg.Judge.HelperPath,
		EnableSeccomp: appCfg.Judge.EnableSeccomp,
	})
	if err != nil {
		logger.Error(context.Background(), "init sandbox engine failed", zap.Error(err))
		return
	}
	sandboxRunner, err := runner.NewSandboxRunner(engine, profiles, appCfg.Judge.WorkRoot)
	if err != nil {
		logger.Error(context.Background(), "init runner failed", zap.Error(err))
		return
	}

	problems := problem.NewMemoryStore()
	for _, p := range appCfg.Problems {
		if err := problems.Register(p); err != nil {
			logger.Error(context.Background(), "register problem failed",
				zap.String("problem_id", p.ID), zap.Error(err))
			return
		}
	}

	scoringEngine, err := scoring.NewEngine(appCfg.Scoring, problems, redisCache)
	if err != nil {
		logger.Error(context.Background(), "init scoring engine failed", zap.Error(err))
		return
	}
	contests, err := contest.NewManager(time.Now, scoringEngine)
	if err != nil {
		logger.Error(context.Background(), "init contest manager failed", zap.Error(err))
		return
	}
	for _, c := range appCfg.Contests {
		if err := contests.Register(c); err != nil {
			logger.Error(context.Background(), "register contest failed",
				zap.String("contest_id", c.ID), zap.Error(err))
			return
		}
	}

	// Rebuild standings from the durable log so a restart does not lose them.
	if logRepo != nil {
		replayStandings(logRepo, scoringEngine, contests)
	}

	hub := server.NewHub()
	statusRepo := repository.NewStatusRepository(redisCache, appCfg.Judge.StatusTTL)

	dispatcher, err := dispatch.NewDispatcher(appCfg.Dispatch, dispatch.Options{
		Problems: problems,
		Profiles: profiles,
		Runner:   sandboxRunner,
		Pool:     appCfg.Worker,
		Status:   statusRepo,
		Log:      logRepo,
		Archive:  archive,
		Producer: producer,
		Scoring:  scoringEngine,
		Contests: contests,
		Notifier: hub,
	})
	if err != nil {
		logger.Error(context.Background(), "init dispatcher failed", zap.Error(err))
		return
	}

	poolCtx, cancelPool := context.WithCancel(context.Background())
	defer cancelPool()
	dispatcher.Start(poolCtx)

	controller := server.NewJudgeController(dispatcher, contests, hub)
	httpServer := server.NewHTTPServer(appCfg.Server, controller)

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "judge http server started", zap.String("addr", httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	if err := dispatcher.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "dispatcher shutdown failed", zap.Error(err))
	}
}

// replayStandings restores every registered contest's board from the
// submission log.
func replayStandings(logRepo repository.SubmissionLogModel, eng *scoring.Engine, contests *contest.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	for _, contestID := range contests.IDs() {
		subs, err := logRepo.ListByContest(ctx, contestID)
		if err != nil {
			logger.Error(ctx, "load submission log failed",
				zap.String("contest_id", contestID), zap.Error(err))
			continue
		}
		if err := eng.Replay(ctx, contestID, subs); err != nil {
			logger.Error(ctx, "replay standings failed",
				zap.String("contest_id", contestID), zap.Error(err))
			continue
		}
		logger.Info(ctx, "standings replayed",
			zap.String("contest_id", contestID), zap.Int("submissions", len(subs)))
	}
}

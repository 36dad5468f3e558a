// Package fx assembles the application graph: config, database,
// repositories, services, the job runtime and the HTTP server.
package fx

import (
	"context"
	"strconv"

	"runetrack/internal/api"
	"runetrack/internal/config"
	"runetrack/internal/database"
	"runetrack/internal/events"
	"runetrack/internal/jobs"
	"runetrack/internal/logger"
	"runetrack/internal/repository"
	"runetrack/internal/server"
	"runetrack/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideHiscoresClient(cfg *config.Config) *api.HiscoresClient {
	return api.NewHiscoresClient(cfg.HiscoresBaseURL)
}

func ProvideStatsFetcher(client *api.HiscoresClient) service.StatsFetcher {
	return client
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	fx.Provide(events.NewBus),
	// repos
	fx.Provide(repository.NewPlayerRepository),
	fx.Provide(repository.NewSnapshotRepository),
	fx.Provide(repository.NewNameChangeRepository),
	fx.Provide(repository.NewArchiveRepository),
	fx.Provide(repository.NewHistoryRepository),
	fx.Provide(repository.NewFlagReportRepository),
	// api client
	fx.Provide(ProvideHiscoresClient),
	fx.Provide(ProvideStatsFetcher),
	// svc
	fx.Provide(service.NewBoundsChecker),
	fx.Provide(service.NewArchiveService),
	fx.Provide(service.NewNameChangeService),
	fx.Provide(service.NewReviewService),
	fx.Provide(service.NewFlagReviewService),
	fx.Provide(service.NewPlayerService),
	// jobs
	fx.Provide(jobs.NewRuntime),
	fx.Provide(jobs.NewScheduler),
	// server
	fx.Provide(server.New),
	fx.Invoke(RegisterJobs),
	fx.Invoke(RegisterEventHandlers),
)

// RegisterJobs binds job types to their handlers and starts the runtime and
// the recheck scheduler under the fx lifecycle.
func RegisterJobs(
	lc fx.Lifecycle,
	runtime *jobs.Runtime,
	scheduler *jobs.Scheduler,
	reviews *service.ReviewService,
	players *service.PlayerService,
	cfg *config.Config,
) {
	runtime.Register(jobs.TypeReviewNameChange, cfg.Jobs.ReviewInterval, func(ctx context.Context, p jobs.Payload) error {
		return reviews.Review(ctx, p.NameChangeID)
	})
	runtime.Register(jobs.TypeUpdatePlayer, cfg.Jobs.UpdateInterval, func(ctx context.Context, p jobs.Payload) error {
		_, _, err := players.Update(ctx, p.Username)
		return err
	})
	runtime.Register(jobs.TypeRecheckFlagged, 0, func(ctx context.Context, _ jobs.Payload) error {
		return players.RecheckOldestFlagged(ctx)
	})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runtime.Start()
			scheduler.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			scheduler.Stop()
			runtime.Stop()
			return nil
		},
	})
}

// RegisterEventHandlers subscribes the job runtime to the domain events that
// drive asynchronous work.
func RegisterEventHandlers(
	bus *events.Bus,
	runtime *jobs.Runtime,
	logger zerolog.Logger,
) {
	bus.Subscribe(events.KindNameChangeSubmitted, func(ctx context.Context, ev events.Event) {
		submitted, ok := ev.Payload.(events.NameChangeSubmitted)
		if !ok {
			return
		}
		_, err := runtime.Enqueue(jobs.TypeReviewNameChange,
			jobs.Payload{NameChangeID: submitted.Request.ID},
			jobs.Options{DedupeKey: strconv.FormatInt(submitted.Request.ID, 10)},
		)
		if err != nil {
			logger.Error().Err(err).Int64("name_change_id", submitted.Request.ID).
				Msg("failed to enqueue name change review")
		}
	})

	bus.Subscribe(events.KindPlayerNameChanged, func(ctx context.Context, ev events.Event) {
		renamed, ok := ev.Payload.(events.PlayerNameChanged)
		if !ok {
			return
		}
		// Refresh the renamed player so its first snapshot under the new
		// name lands promptly.
		_, err := runtime.Enqueue(jobs.TypeUpdatePlayer,
			jobs.Payload{Username: renamed.Player.Username},
			jobs.Options{DedupeKey: renamed.Player.Username},
		)
		if err != nil {
			logger.Error().Err(err).Str("username", renamed.Player.Username).
				Msg("failed to enqueue post-rename update")
		}
	})
}

// 求人サービスのエントリポイント。
// 求人とスキルのCRUDを提供し、求人の登録を通知サービスへ知らせる。
package main

import (
	"github.com/rs/zerolog/log"

	"github.com/nao1215/jobhunter/internal/document"
	"github.com/nao1215/jobhunter/internal/job"
	"github.com/nao1215/jobhunter/internal/platform"
)

func main() {
	rt, err := platform.Init("job")
	if err != nil {
		log.Fatal().Err(err).Msg("求人サービスの設定に失敗")
	}

	store, err := document.Open(rt.Config.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("データベースの初期化に失敗")
	}
	defer func() { _ = store.Close() }()

	notifier := job.NewNotificationClient(rt.Config.Services.Notification)
	server := document.NewServer(document.ServerConfig{
		Name:    "job",
		Port:    rt.Config.Port,
		Trust:   rt.Trust(),
		Logger:  rt.Logger,
		Metrics: rt.Metrics,
	}, job.Routes(store, notifier))

	rt.Logger.Info().Str("port", rt.Config.Port).Msg("求人サービスを起動します")
	if err := server.Run(); err != nil {
		log.Fatal().Err(err).Msg("求人サービスの起動に失敗")
	}
}

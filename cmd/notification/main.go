// 通知サービスのエントリポイント。
// 購読者の登録と通知の保存・既読管理を行い、求人の登録時に
// スキルが一致する購読者へ通知を生成する。
package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/nao1215/jobhunter/internal/document"
	"github.com/nao1215/jobhunter/internal/notification"
	"github.com/nao1215/jobhunter/internal/platform"
)

func main() {
	rt, err := platform.Init("notification")
	if err != nil {
		log.Fatal().Err(err).Msg("通知サービスの設定に失敗")
	}

	store, err := document.Open(rt.Config.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("データベースの初期化に失敗")
	}
	defer func() { _ = store.Close() }()

	queries, err := notification.NewQueries(context.Background(), store.DB(), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("通知テーブルの初期化に失敗")
	}

	trustCfg := rt.Trust()
	trustCfg.ExemptSafeMethods = true
	server := document.NewServer(document.ServerConfig{
		Name:    "notification",
		Port:    rt.Config.Port,
		Trust:   trustCfg,
		Logger:  rt.Logger,
		Metrics: rt.Metrics,
	}, notification.NewServer(store, queries).Routes())

	rt.Logger.Info().Str("port", rt.Config.Port).Msg("通知サービスを起動します")
	if err := server.Run(); err != nil {
		log.Fatal().Err(err).Msg("通知サービスの起動に失敗")
	}
}

// 応募書類サービスのエントリポイント。
// 応募書類のCRUDを提供する。参照は本人と採用担当者に限られる。
package main

import (
	"github.com/rs/zerolog/log"

	"github.com/nao1215/jobhunter/internal/document"
	"github.com/nao1215/jobhunter/internal/platform"
	"github.com/nao1215/jobhunter/internal/resume"
)

func main() {
	rt, err := platform.Init("resume")
	if err != nil {
		log.Fatal().Err(err).Msg("応募書類サービスの設定に失敗")
	}

	store, err := document.Open(rt.Config.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("データベースの初期化に失敗")
	}
	defer func() { _ = store.Close() }()

	server := document.NewServer(document.ServerConfig{
		Name:    "resume",
		Port:    rt.Config.Port,
		Trust:   rt.Trust(),
		Logger:  rt.Logger,
		Metrics: rt.Metrics,
	}, resume.Routes(store))

	rt.Logger.Info().Str("port", rt.Config.Port).Msg("応募書類サービスを起動します")
	if err := server.Run(); err != nil {
		log.Fatal().Err(err).Msg("応募書類サービスの起動に失敗")
	}
}

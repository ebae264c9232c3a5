// 企業サービスのエントリポイント。
// 企業情報のCRUDを提供する。
package main

import (
	"github.com/rs/zerolog/log"

	"github.com/nao1215/jobhunter/internal/company"
	"github.com/nao1215/jobhunter/internal/document"
	"github.com/nao1215/jobhunter/internal/platform"
)

func main() {
	rt, err := platform.Init("company")
	if err != nil {
		log.Fatal().Err(err).Msg("企業サービスの設定に失敗")
	}

	store, err := document.Open(rt.Config.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("データベースの初期化に失敗")
	}
	defer func() { _ = store.Close() }()

	server := document.NewServer(document.ServerConfig{
		Name:    "company",
		Port:    rt.Config.Port,
		Trust:   rt.Trust(),
		Logger:  rt.Logger,
		Metrics: rt.Metrics,
	}, company.Routes(store))

	rt.Logger.Info().Str("port", rt.Config.Port).Msg("企業サービスを起動します")
	if err := server.Run(); err != nil {
		log.Fatal().Err(err).Msg("企業サービスの起動に失敗")
	}
}

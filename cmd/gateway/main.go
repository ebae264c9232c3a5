// API Gatewayサービスのエントリポイント。
// アクセストークンを検証し、署名付きの信頼アサーションに置き換えて内部サービスへ転送する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/nao1215/jobhunter/internal/gateway"
	"github.com/nao1215/jobhunter/internal/platform"
)

func main() {
	rt, err := platform.Init("gateway")
	if err != nil {
		log.Fatal().Err(err).Msg("Gatewayサービスの設定に失敗")
	}

	kv, closeKV, err := rt.OpenKVStore(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("キーバリューストアの初期化に失敗")
	}
	defer func() { _ = closeKV() }()

	codec, err := rt.Codec()
	if err != nil {
		log.Fatal().Err(err).Msg("トークンコーデックの初期化に失敗")
	}

	server, err := gateway.NewServer(gateway.Config{
		Port:           rt.Config.Port,
		Services:       rt.Config.Services,
		AllowedOrigins: rt.AllowedOrigins(),
		Edge:           rt.Edge(codec, rt.Ledger(kv)),
		Logger:         rt.Logger,
		Metrics:        rt.Metrics,
		AuthRateLimit:  rt.AuthRateLimit(),
		TrustedProxies: rt.Config.TrustedProxies,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Gatewayサーバーの初期化に失敗")
	}

	rt.Logger.Info().Str("port", rt.Config.Port).Msg("Gatewayサービスを起動します")
	if err := server.Run(); err != nil {
		log.Fatal().Err(err).Msg("Gatewayサービスの起動に失敗")
	}
}

// 認証サービスのエントリポイント。
// ログイン・登録・リフレッシュ・ログアウトを処理し、トークン台帳を管理する。
package main

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/nao1215/jobhunter/internal/identity"
	"github.com/nao1215/jobhunter/internal/platform"
)

func main() {
	rt, err := platform.Init("identity")
	if err != nil {
		log.Fatal().Err(err).Msg("認証サービスの設定に失敗")
	}
	ctx := context.Background()

	kv, closeKV, err := rt.OpenKVStore(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("キーバリューストアの初期化に失敗")
	}
	defer func() { _ = closeKV() }()

	store, err := identity.OpenSQLite(rt.Config.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("データベースの初期化に失敗")
	}
	defer func() { _ = store.Close() }()

	codec, err := rt.Codec()
	if err != nil {
		log.Fatal().Err(err).Msg("トークンコーデックの初期化に失敗")
	}
	service, err := identity.NewService(store, codec, rt.Ledger(kv),
		identity.WithLogger(rt.Logger),
		identity.WithMetrics(rt.Metrics),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("認証サービスの初期化に失敗")
	}

	if rt.Config.AdminEmail != "" {
		if err := service.EnsureAdmin(ctx, rt.Config.AdminEmail, rt.Config.AdminPassword); err != nil {
			log.Fatal().Err(err).Msg("管理者アカウントの作成に失敗")
		}
		rt.Logger.Info().Str("email", rt.Config.AdminEmail).Msg("管理者アカウントを用意しました")
	}

	server := identity.NewServer(identity.ServerConfig{
		Port:         rt.Config.Port,
		Service:      service,
		Trust:        rt.Trust(),
		CookieSecure: rt.Config.CookieSecure,
		Logger:       rt.Logger,
		Metrics:      rt.Metrics,
	})

	rt.Logger.Info().Str("port", rt.Config.Port).Msg("認証サービスを起動します")
	if err := server.Run(); err != nil {
		log.Fatal().Err(err).Msg("認証サービスの起動に失敗")
	}
}

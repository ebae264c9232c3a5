// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// Gateway側ではアクセストークンを検証して信頼アサーションに置き換える
// EdgeAuth を、内部サービス側ではその信頼アサーションとロール要件を検証する
// GatewayTrust を使用する。リクエストログ、パニックリカバリ、CORS設定など
// 全サービスで共通して使用するミドルウェアも含む。
package middleware

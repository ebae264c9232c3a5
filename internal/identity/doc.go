// Package identity はログイン・トークン再発行・ログアウト・ユーザー登録を担う認証サービスを提供する。
//
// 資格情報はSQLiteに保存し、発行したリフレッシュトークンと失効させた
// アクセストークンはledgerパッケージの台帳で管理する。Gatewayはこの
// サービスのトークン発行系エンドポイントを認証せずに転送する。
package identity

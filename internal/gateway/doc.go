// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として
// 機能する。ログインやトークン再発行などの資格情報の発行経路は認証せずに
// 認証サービスへ転送し、それ以外の /api/v1 配下はアクセストークンを検証して
// 署名付きの信頼アサーションに置き換えてから各サービスへ転送する。
package gateway

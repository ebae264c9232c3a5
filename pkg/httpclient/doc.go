// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 呼び出し元のリクエストに付与された信頼アサーションとリクエストIDを
// 呼び出し先へ引き継ぐため、内部サービス同士の呼び出しも
// Gatewayを経由した場合と同じ検証を通過する。
package httpclient

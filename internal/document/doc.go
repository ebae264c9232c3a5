// Package document はGatewayの背後で動作する業務サービス（企業・求人・履歴書など）が
// 共通で使うJSONドキュメントストアとCRUDハンドラ、サーバーの骨組みを提供する。
//
// 各サービスはRouteFuncでルートを登録し、同時にmiddleware.Handleや
// middleware.Restrictでロール要件をポリシーテーブルへ登録する。
package document

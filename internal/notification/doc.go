// Package notification は通知サービスの内部実装を提供する。
//
// 求人のスキルに関心を持つ購読者を管理し、求人作成の連絡を受けると
// スキルが一致する購読者へ通知を生成・保存する。通知の一覧取得や既読管理も行う。
//
// 購読情報の参照系はGatewayの署名なしでも応答する。
package notification

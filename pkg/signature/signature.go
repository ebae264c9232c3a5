// Package signature はGatewayと内部サービスの間で共有するHMAC署名を提供する。
//
// Gatewayはリクエストごとにユーザー識別子とタイムスタンプから署名を生成し、
// 内部サービスは同じ共有シークレットで署名を再計算して照合する。
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
)

// Sign はdataのUTF-8バイト列に対するHMAC-SHA256を計算し、Base64文字列で返す。
func Sign(data, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify はdataの署名を再計算し、digestと一致するかを返す。
// 比較は通常の文字列比較で行う（定数時間比較ではない）。
func Verify(data, digest, secret string) bool {
	if digest == "" {
		return false
	}
	return Sign(data, secret) == digest
}

// Data は署名対象の正規文字列 "{subjectID}:{email}:{timestampMillis}" を組み立てる。
// 値が存在しないフィールドは空文字列として扱う。
func Data(subjectID, email string, timestampMillis int64) string {
	return subjectID + ":" + email + ":" + strconv.FormatInt(timestampMillis, 10)
}

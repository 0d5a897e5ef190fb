package api

import (
	"taxbook/config"
)

// SafeErrorMessage release モードでは内部エラーの詳細をクライアントに返さない
func SafeErrorMessage(err error, fallback string) string {
	return config.SafeErrorMessage(err, fallback)
}

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// KeyFunc 制限の単位となるキー。空文字なら制限しない
type KeyFunc func(c *gin.Context) string

// ClientIPKey 接続元 IP ごと
func ClientIPKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// UserKey トークンのユーザー ID ごと。JWTAuth の後ろで使う
// 未認証なら IP で代用する
func UserKey(c *gin.Context) string {
	if id := GetCurrentUserID(c); id != 0 {
		return "user:" + strconv.FormatUint(uint64(id), 10)
	}
	return ClientIPKey(c)
}

// slidingWindow キーごとに直近 window 内の受付時刻を持つ
type slidingWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	return &slidingWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// allow 受け付けるなら記録して true。拒否時は次に空くまでの時間を返す
func (w *slidingWindow) allow(key string) (bool, time.Duration) {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()

	ts := w.prune(key, now)
	if len(ts) >= w.limit {
		return false, ts[0].Add(w.window).Sub(now)
	}
	w.hits[key] = append(ts, now)
	return true, 0
}

// prune key の期限切れを落とす。mu を持った状態で呼ぶ
func (w *slidingWindow) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-w.window)
	ts := w.hits[key]
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	ts = ts[i:]
	if len(ts) == 0 {
		delete(w.hits, key)
		return nil
	}
	w.hits[key] = ts
	return ts
}

// sweep 全キーの期限切れを落とす
func (w *slidingWindow) sweep() {
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for key := range w.hits {
		w.prune(key, now)
	}
}

func (w *slidingWindow) size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.hits)
}

// RateLimit key ごとに window 内 limit 回まで受け付け、超えたら 429 と Retry-After を返す
func RateLimit(limit int, window time.Duration, key KeyFunc, message string) gin.HandlerFunc {
	w := newSlidingWindow(limit, window)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			w.sweep()
		}
	}()
	return rateLimitHandler(w, key, message)
}

func rateLimitHandler(w *slidingWindow, key KeyFunc, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		k := key(c)
		if k == "" {
			c.Next()
			return
		}
		ok, wait := w.allow(k)
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": message,
				"data":    nil,
			})
			return
		}
		c.Next()
	}
}

// LoginRateLimit ログイン試行の制限。IP ごと
func LoginRateLimit(maxAttempts int, window time.Duration) gin.HandlerFunc {
	return RateLimit(maxAttempts, window, ClientIPKey, "ログイン試行が多すぎます。しばらくしてから再度お試しください")
}

// ExtractRateLimit 領収書読み取り（外部 API 呼び出し）の制限。ユーザーごと
// limit が 0 以下なら制限しない
func ExtractRateLimit(limit int, window time.Duration) gin.HandlerFunc {
	if limit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return RateLimit(limit, window, UserKey, "読み取りの回数が上限に達しました。しばらくしてから再度お試しいただくか、手動で入力してください")
}

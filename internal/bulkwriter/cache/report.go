package cache

import (
	"net/http"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"table-bulkwriter/internal/bulkwriter/writer"

	"github.com/bytedance/sonic"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const REPORT_CACHE_TTL = time.Hour // 默认保留时长

// ReportCache 保存最近的写入报告摘要, 过期自动清理
type ReportCache struct {
	tl         *zap.Logger
	localCache *cache.Cache
	seq        atomic.Uint64
}

func NewReportCache(tl *zap.Logger, ttl time.Duration) *ReportCache {
	if ttl <= 0 {
		ttl = REPORT_CACHE_TTL
	}
	return &ReportCache{
		tl:         tl,
		localCache: cache.New(ttl, time.Minute),
	}
}

func (c *ReportCache) Add(s writer.Summary) {
	key := s.WriterID + ":" + strconv.FormatUint(c.seq.Add(1), 10)
	c.localCache.SetDefault(key, s)
}

// List returns the cached summaries of writerID, or of every writer when
// writerID is empty, newest first.
func (c *ReportCache) List(writerID string) []writer.Summary {
	items := c.localCache.Items()
	out := make([]writer.Summary, 0, len(items))
	for _, item := range items {
		s, ok := item.Object.(writer.Summary)
		if !ok {
			continue
		}
		if writerID != "" && s.WriterID != writerID {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	return out
}

func (c *ReportCache) Count() int {
	return c.localCache.ItemCount()
}

// ServeHTTP 输出 JSON 数组, 支持 ?writer_id= 过滤
func (c *ReportCache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := sonic.Marshal(c.List(r.URL.Query().Get("writer_id")))
	if err != nil {
		c.tl.Error("Encode reports failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"TextTune/db"
	"TextTune/logger"
)

// 任务进度缓存：把tick进度写进Redis，状态查询时优先读取缓存值，
// 避免每500ms的进度都依赖一次数据库往返。Redis未启用时全部降级为no-op。

const (
	jobProgressPrefix = "job_progress:"
	jobProgressTTL    = 10 * time.Minute
)

func progressKey(jobID string) string {
	return jobProgressPrefix + jobID
}

// SetJobProgress 缓存任务进度，失败只记日志不影响任务流转
func SetJobProgress(ctx context.Context, jobID string, progress float64) {
	if db.RedisClient == nil {
		return
	}
	value := strconv.FormatFloat(progress, 'f', 4, 64)
	if err := db.RedisClient.Set(ctx, progressKey(jobID), value, jobProgressTTL).Err(); err != nil {
		logger.Debug("failed to cache job progress",
			logger.String("jobId", jobID),
			logger.ErrorField(err))
	}
}

// GetJobProgress 读取缓存的任务进度，未命中或未启用时返回 (0, false)
func GetJobProgress(ctx context.Context, jobID string) (float64, bool) {
	if db.RedisClient == nil {
		return 0, false
	}
	value, err := db.RedisClient.Get(ctx, progressKey(jobID)).Result()
	if err != nil {
		return 0, false
	}
	progress, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	return progress, true
}

// ClearJobProgress 删除终态任务的进度缓存
func ClearJobProgress(ctx context.Context, jobID string) {
	if db.RedisClient == nil {
		return
	}
	if err := db.RedisClient.Del(ctx, progressKey(jobID)).Err(); err != nil {
		logger.Debug(fmt.Sprintf("failed to clear progress cache for job %s", jobID),
			logger.ErrorField(err))
	}
}

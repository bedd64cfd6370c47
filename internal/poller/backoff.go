package poller

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// retryPolicy 计算下一次探测的延迟
//
// 连续传输失败达到阈值后按指数退避，首个退避值为 interval*multiplier，
// 之后逐次乘以 multiplier 直到上限。实例一旦可达即回到基础间隔。
type retryPolicy struct {
	base      time.Duration
	threshold int
	eb        *backoff.ExponentialBackOff
}

func newRetryPolicy(interval time.Duration, multiplier float64, max time.Duration, threshold int) *retryPolicy {
	if multiplier < 1 {
		multiplier = 2
	}
	if threshold <= 0 {
		threshold = 1
	}
	if max < interval {
		max = interval
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(float64(interval) * multiplier)
	if eb.InitialInterval > max {
		eb.InitialInterval = max
	}
	eb.Multiplier = multiplier
	eb.MaxInterval = max
	eb.RandomizationFactor = 0
	eb.Reset()

	return &retryPolicy{base: interval, threshold: threshold, eb: eb}
}

// Next 返回连续失败 failures 次后的延迟
func (r *retryPolicy) Next(failures int) time.Duration {
	if failures < r.threshold {
		return r.base
	}
	return r.eb.NextBackOff()
}

// Reset 回到基础间隔
func (r *retryPolicy) Reset() {
	r.eb.Reset()
}

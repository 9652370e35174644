// internal/keypool/allocator.go
package keypool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// TaskType selects the allocation strategy for the secondary (media) pool.
type TaskType string

const (
	TaskImage TaskType = "image"
	TaskVoice TaskType = "voice"
)

const (
	// VoiceCost is the approximate quota a single voice synthesis consumes.
	VoiceCost = 55000
	// ImageQuotaThreshold is the minimum remaining quota a credential needs
	// to be considered for an image task.
	ImageQuotaThreshold = 7500
)

// QuotaFunc queries the remaining quota of one credential.
type QuotaFunc func(ctx context.Context, key string) (int64, error)

type candidate struct {
	key       string
	remaining int64
}

// ExecuteWithSmartAllocation picks the order in which secondary credentials
// are tried based on their live remaining quota, then runs op down that list.
//
// Voice tasks are expensive and fixed-cost, so the richest credential goes
// first and a quota failure on it aborts the whole operation: if the best
// funded key cannot afford the call, none can. Image tasks are cheap, so the
// leanest credential above ImageQuotaThreshold goes first, preserving large
// credentials for voice; a quota failure just moves on to a larger one.
func ExecuteWithSmartAllocation[T any](ctx context.Context, keys []string, task TaskType, quota QuotaFunc, op func(ctx context.Context, key string) (T, error)) (T, error) {
	var zero T
	if len(keys) == 0 {
		return zero, fmt.Errorf("secondary credential pool is empty")
	}

	candidates := queryQuotas(ctx, keys, quota)
	if len(candidates) == 0 {
		return zero, fmt.Errorf("no secondary credential answered its quota query")
	}

	switch task {
	case TaskVoice:
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].remaining > candidates[j].remaining
		})
	case TaskImage:
		filtered := candidates[:0]
		for _, c := range candidates {
			if c.remaining >= ImageQuotaThreshold {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
		if len(candidates) == 0 {
			return zero, ErrInsufficientQuota
		}
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].remaining < candidates[j].remaining
		})
	default:
		return zero, fmt.Errorf("unknown task type %q", task)
	}

	var lastErr error
	for _, c := range candidates {
		res, err := op(ctx, c.key)
		if err == nil {
			return res, nil
		}
		lastErr = err

		switch Classify(err) {
		case ClassRateLimited:
			if task == TaskVoice {
				// The best-funded credential could not afford it; smaller
				// ones certainly cannot. Do not waste the calls.
				return zero, err
			}
			log.Warnf("keypool: image credential out of quota, trying larger: %v", err)
		case ClassOverloaded:
			log.Warnf("keypool: media provider overloaded, trying next credential: %v", err)
		default:
			log.Warnf("keypool: media call failed, trying next credential: %v", err)
		}
	}
	return zero, lastErr
}

// queryQuotas fans the quota queries out in parallel. Credentials whose
// query fails are excluded from allocation entirely.
func queryQuotas(ctx context.Context, keys []string, quota QuotaFunc) []candidate {
	results := make([]*candidate, len(keys))
	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			remaining, err := quota(ctx, key)
			if err != nil {
				log.Warnf("keypool: quota query failed for credential %d: %v", i, err)
				return
			}
			results[i] = &candidate{key: key, remaining: remaining}
		}(i, key)
	}
	wg.Wait()

	candidates := make([]candidate, 0, len(keys))
	for _, r := range results {
		if r != nil {
			candidates = append(candidates, *r)
		}
	}
	return candidates
}

// internal/keypool/allocator_test.go
package keypool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedQuota builds a QuotaFunc from a static map; keys absent from the map
// fail their quota query.
func fixedQuota(m map[string]int64) QuotaFunc {
	return func(ctx context.Context, key string) (int64, error) {
		if q, ok := m[key]; ok {
			return q, nil
		}
		return 0, errors.New("quota lookup failed")
	}
}

var threeKeys = map[string]int64{"small": 10000, "mid": 50000, "big": 100000}

func TestSmartAllocation_VoicePicksRichestFirst(t *testing.T) {
	var tried []string
	res, err := ExecuteWithSmartAllocation(context.Background(),
		[]string{"small", "mid", "big"}, TaskVoice, fixedQuota(threeKeys),
		func(ctx context.Context, key string) (string, error) {
			tried = append(tried, key)
			return "ok-" + key, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok-big", res)
	assert.Equal(t, []string{"big"}, tried)
}

func TestSmartAllocation_ImagePicksLeanestSufficientFirst(t *testing.T) {
	var tried []string
	res, err := ExecuteWithSmartAllocation(context.Background(),
		[]string{"small", "mid", "big"}, TaskImage, fixedQuota(threeKeys),
		func(ctx context.Context, key string) (string, error) {
			tried = append(tried, key)
			return "ok-" + key, nil
		})
	require.NoError(t, err)
	// 10000 is above the 7500 threshold and is the leanest candidate.
	assert.Equal(t, "ok-small", res)
	assert.Equal(t, []string{"small"}, tried)
}

func TestSmartAllocation_ImageFiltersBelowThreshold(t *testing.T) {
	quotas := map[string]int64{"tiny": 5000, "mid": 50000}
	var tried []string
	_, err := ExecuteWithSmartAllocation(context.Background(),
		[]string{"tiny", "mid"}, TaskImage, fixedQuota(quotas),
		func(ctx context.Context, key string) (string, error) {
			tried = append(tried, key)
			return "", &StatusError{Status: 500, Message: "boom"}
		})
	require.Error(t, err)
	assert.Equal(t, []string{"mid"}, tried, "below-threshold credentials must not be tried")
}

func TestSmartAllocation_ImageAllBelowThreshold(t *testing.T) {
	quotas := map[string]int64{"a": 100, "b": 7000}
	_, err := ExecuteWithSmartAllocation(context.Background(),
		[]string{"a", "b"}, TaskImage, fixedQuota(quotas),
		func(ctx context.Context, key string) (string, error) {
			t.Fatal("op must not run with no sufficient credentials")
			return "", nil
		})
	assert.ErrorIs(t, err, ErrInsufficientQuota)
}

func TestSmartAllocation_VoiceQuotaFailureAborts(t *testing.T) {
	var tried []string
	_, err := ExecuteWithSmartAllocation(context.Background(),
		[]string{"small", "mid", "big"}, TaskVoice, fixedQuota(threeKeys),
		func(ctx context.Context, key string) (string, error) {
			tried = append(tried, key)
			return "", &StatusError{Status: 429, Message: "quota exceeded"}
		})
	require.Error(t, err)
	assert.Equal(t, []string{"big"}, tried, "voice must abort after the richest credential fails on quota")
}

func TestSmartAllocation_ImageQuotaFailureContinues(t *testing.T) {
	var tried []string
	res, err := ExecuteWithSmartAllocation(context.Background(),
		[]string{"small", "mid", "big"}, TaskImage, fixedQuota(threeKeys),
		func(ctx context.Context, key string) (string, error) {
			tried = append(tried, key)
			if key == "small" {
				return "", &StatusError{Status: 429, Message: "quota exceeded"}
			}
			return "ok-" + key, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok-mid", res)
	assert.Equal(t, []string{"small", "mid"}, tried)
}

func TestSmartAllocation_ServerErrorContinues(t *testing.T) {
	var tried []string
	res, err := ExecuteWithSmartAllocation(context.Background(),
		[]string{"small", "mid", "big"}, TaskVoice, fixedQuota(threeKeys),
		func(ctx context.Context, key string) (string, error) {
			tried = append(tried, key)
			if key == "big" {
				return "", &StatusError{Status: 503, Message: "overloaded"}
			}
			return "ok-" + key, nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok-mid", res)
	assert.Equal(t, []string{"big", "mid"}, tried)
}

func TestSmartAllocation_FailedQuotaQueriesExcluded(t *testing.T) {
	// "mid" has no quota entry so its query fails; it must never be tried.
	quotas := map[string]int64{"small": 10000, "big": 100000}
	var tried []string
	_, err := ExecuteWithSmartAllocation(context.Background(),
		[]string{"small", "mid", "big"}, TaskVoice, fixedQuota(quotas),
		func(ctx context.Context, key string) (string, error) {
			tried = append(tried, key)
			return "", &StatusError{Status: 500, Message: "boom"}
		})
	require.Error(t, err)
	assert.Equal(t, []string{"big", "small"}, tried)
}

func TestSmartAllocation_NoValidCredentials(t *testing.T) {
	_, err := ExecuteWithSmartAllocation(context.Background(),
		[]string{"a"}, TaskVoice, fixedQuota(nil),
		func(ctx context.Context, key string) (string, error) {
			t.Fatal("op must not run when every quota query failed")
			return "", nil
		})
	require.Error(t, err)
}

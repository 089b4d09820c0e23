package analytics

import (
	"sort"
	"time"

	"github.com/ongoingai/dashboard/internal/usage"
)

type KeyQuota struct {
	KeyID        string `json:"key_id"`
	Name         string `json:"name"`
	Prefix       string `json:"prefix"`
	IsActive     bool   `json:"is_active"`
	RateLimit    int64  `json:"rate_limit"`
	RequestsUsed int64  `json:"requests_used"`
	UsedPercent  int    `json:"used_percent"`
}

// KeyQuotas reports rate-limit consumption per key, most consumed first,
// keeping at most n rows (n <= 0 keeps all). Keys without a positive rate
// limit report 0%.
func KeyQuotas(keys []usage.APIKeyRecord, n int) []KeyQuota {
	out := make([]KeyQuota, 0, len(keys))
	for _, key := range keys {
		out = append(out, KeyQuota{
			KeyID:        key.ID,
			Name:         key.Name,
			Prefix:       key.Prefix,
			IsActive:     key.IsActive,
			RateLimit:    key.RateLimit,
			RequestsUsed: key.RequestsUsed,
			UsedPercent:  Percentage(key.RequestsUsed, key.RateLimit),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UsedPercent > out[j].UsedPercent
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func ActiveKeyCount(keys []usage.APIKeyRecord) int {
	count := 0
	for _, key := range keys {
		if key.IsActive {
			count++
		}
	}
	return count
}

type PlanMix struct {
	Free           int64 `json:"free_users"`
	Pro            int64 `json:"pro_users"`
	Enterprise     int64 `json:"enterprise_users"`
	Total          int64 `json:"total_users"`
	ConversionRate int   `json:"conversion_rate"`
}

// PlanMixOf counts users per plan. Unrecognized plans count as free.
func PlanMixOf(users []usage.UserRecord) PlanMix {
	var mix PlanMix
	for _, user := range users {
		switch user.Plan {
		case usage.PlanPro:
			mix.Pro++
		case usage.PlanEnterprise:
			mix.Enterprise++
		default:
			mix.Free++
		}
	}
	mix.Total = int64(len(users))
	mix.ConversionRate = Percentage(mix.Pro+mix.Enterprise, mix.Total)
	return mix
}

// NewUsers counts users created inside w.
func NewUsers(users []usage.UserRecord, w Window, now time.Time) int {
	return len(Filter(users, userCreated, w, now))
}

// NewUsersPrevious counts users created in the window just before w.
func NewUsersPrevious(users []usage.UserRecord, w Window, now time.Time) int {
	return len(FilterPrevious(users, userCreated, w, now))
}

// UsersBefore counts users created strictly before t.
func UsersBefore(users []usage.UserRecord, t time.Time) int {
	return len(Select(users, func(user usage.UserRecord) bool { return user.CreatedAt.Before(t) }))
}

func userCreated(user usage.UserRecord) time.Time {
	return user.CreatedAt
}

type TrendDirection string

const (
	TrendUp   TrendDirection = "up"
	TrendDown TrendDirection = "down"
	TrendFlat TrendDirection = "flat"
	// TrendNone marks a value with no earlier period to compare against.
	TrendNone TrendDirection = ""
)

func Direction(current, previous int64) TrendDirection {
	switch {
	case current > previous:
		return TrendUp
	case current < previous:
		return TrendDown
	default:
		return TrendFlat
	}
}

package usage

import "time"

// Snapshot is the set of the four record collections committed together by one
// refresh. TakenAt is the single "now" every aggregation of this snapshot uses.
type Snapshot struct {
	ID      string
	Seq     uint64
	TakenAt time.Time
	Events  []RequestEvent
	Daily   []DailyUsageRecord
	Keys    []APIKeyRecord
	Users   []UserRecord
}

func (s *Snapshot) UserByID(userID string) (UserRecord, bool) {
	if s == nil {
		return UserRecord{}, false
	}
	for _, user := range s.Users {
		if user.UserID == userID {
			return user, true
		}
	}
	return UserRecord{}, false
}

func (s *Snapshot) KeysForUser(userID string) []APIKeyRecord {
	out := []APIKeyRecord{}
	if s == nil {
		return out
	}
	for _, key := range s.Keys {
		if key.UserID == userID {
			out = append(out, key)
		}
	}
	return out
}

func (s *Snapshot) EventsForUser(userID string) []RequestEvent {
	out := []RequestEvent{}
	if s == nil {
		return out
	}
	for _, event := range s.Events {
		if event.UserID == userID {
			out = append(out, event)
		}
	}
	return out
}

func (s *Snapshot) DailyForUser(userID string) []DailyUsageRecord {
	out := []DailyUsageRecord{}
	if s == nil {
		return out
	}
	for _, record := range s.Daily {
		if record.UserID == userID {
			out = append(out, record)
		}
	}
	return out
}

package fraud

import (
	"fmt"
	"time"
)

// utc evaluates hours in UTC so results don't depend on the host zone.
func utc() Thresholds {
	return DefaultThresholds().WithLocation(time.UTC)
}

// at returns the ms timestamp for 2024-03-15 h:m:s UTC plus day offset.
func at(day, h, m, s int) int64 {
	return time.Date(2024, 3, 15+day, h, m, s, 0, time.UTC).UnixMilli()
}

var seq int

func tx(sender, receiver, amt string, createdAt int64) RawTransaction {
	seq++
	return RawTransaction{
		ID:         fmt.Sprintf("tx_%d", seq),
		Amount:     amt,
		CreatedAt:  createdAt,
		SenderID:   sender,
		ReceiverID: receiver,
		Owner:      sender,
		Status:     StatusCompleted,
		Type:       TypeGiftGive,
	}
}

// Package plant contains the sensor reading model and the repository that
// supplies the latest readings of each device.
package plant

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// TimestampLayout is the layout of reading timestamps in push payloads and
// pages.
const TimestampLayout = "2006-01-02T15:04:05"

// ErrUnavailable is wrapped by repository errors caused by the backing store.
var ErrUnavailable = errors.New("plant: repository unavailable")

// Reading is a single sensor reading of a device.
type Reading struct {
	DeviceID    int
	Temperature float64
	Humidity    float64
	CapturedAt  time.Time
}

// Repository supplies the latest readings.
//
// Implementations must be safe for concurrent use; one repository is shared by
// the router and every session.
type Repository interface {
	// FetchLatest returns the latest reading of the device, or nil if the
	// device has none.
	FetchLatest(ctx context.Context, deviceID int) (*Reading, error)

	// FetchAllLatest returns the latest reading of every device ordered by
	// device id ascending.
	FetchAllLatest(ctx context.Context) ([]Reading, error)
}

type pushItem struct {
	DeviceID  int     `json:"deviceId"`
	Temp      float64 `json:"temp"`
	Hum       float64 `json:"hum"`
	Timestamp string  `json:"timestamp"`
}

// MarshalPush encodes readings as the JSON array pushed to WebSocket clients:
//
//	[{"deviceId":1,"temp":21.5,"hum":40,"timestamp":"2024-05-01T10:00:00"}]
//
// Empty or nil readings are encoded as an empty array.
func MarshalPush(rs []Reading) ([]byte, error) {
	items := make([]pushItem, len(rs))
	for i, r := range rs {
		items[i] = pushItem{
			DeviceID:  r.DeviceID,
			Temp:      r.Temperature,
			Hum:       r.Humidity,
			Timestamp: r.CapturedAt.Format(TimestampLayout),
		}
	}
	return json.Marshal(items)
}

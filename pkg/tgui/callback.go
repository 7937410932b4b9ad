package tgui

import (
	"errors"
	"strconv"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats inline callback data as "ns:action:payload". Payload is kept
// as-is and may itself contain ':'.
func Data(ns, action, payload string) string {
	ns = strings.TrimSpace(ns)
	action = strings.TrimSpace(action)
	if payload == "" {
		return ns + ":" + action
	}
	return ns + ":" + action + ":" + payload
}

// DataID is Data with an integer payload.
func DataID(ns, action string, id int64) string {
	return Data(ns, action, strconv.FormatInt(id, 10))
}

// CheckData reports ErrCallbackDataTooLong when data exceeds Telegram's limit.
func CheckData(data string) error {
	if len(data) > MaxCallbackDataLen {
		return ErrCallbackDataTooLong
	}
	return nil
}

// Callback is parsed callback data.
type Callback struct {
	NS      string
	Action  string
	Payload string
}

// ParseData splits "ns:action[:payload]".
func ParseData(data string) (Callback, bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Callback{}, false
	}
	c := Callback{NS: parts[0], Action: parts[1]}
	if len(parts) == 3 {
		c.Payload = parts[2]
	}
	return c, true
}

// ID reads the payload as a positive integer id.
func (c Callback) ID() (int64, error) {
	id, err := strconv.ParseInt(c.Payload, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("tgui: payload is not an id: " + c.Payload)
	}
	return id, nil
}

package ports

import "context"

// DeviceState describes the connectivity of a known device.
type DeviceState string

const (
	DeviceOnline       DeviceState = "online"
	DeviceOffline      DeviceState = "offline"
	DeviceUnauthorized DeviceState = "unauthorized"
)

// DeviceInfo is one entry of the device directory snapshot.
type DeviceInfo struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	State DeviceState `json:"state"`
}

// DeviceDirectory provides a read-only snapshot of known devices. It has no
// side effects and must remain callable while executions are in flight.
type DeviceDirectory interface {
	ListDevices(ctx context.Context) ([]DeviceInfo, error)
}

// ActionKind enumerates the atomic UI operations the vision model may request.
type ActionKind string

const (
	ActionTap       ActionKind = "tap"
	ActionDoubleTap ActionKind = "double_tap"
	ActionLongPress ActionKind = "long_press"
	ActionSwipe     ActionKind = "swipe"
	ActionType      ActionKind = "type"
	ActionLaunch    ActionKind = "launch"
	ActionBack      ActionKind = "back"
	ActionHome      ActionKind = "home"
	ActionWait      ActionKind = "wait"
	ActionFinish    ActionKind = "finish"
	ActionTakeOver  ActionKind = "take_over"
)

// Action is one parsed device operation. Coordinates are normalized to a
// 0..999 grid; the device layer scales them to the real screen.
type Action struct {
	Kind    ActionKind `json:"kind"`
	Element []int      `json:"element,omitempty"`   // [x, y]
	End     []int      `json:"end,omitempty"`       // swipe destination [x, y]
	Text    string     `json:"text,omitempty"`      // type input
	App     string     `json:"app,omitempty"`       // launch target
	Seconds float64    `json:"seconds,omitempty"`   // wait duration
	Message string     `json:"message,omitempty"`   // finish / take_over payload
}

// CoordinateScale is the grid the vision model emits coordinates in.
const CoordinateScale = 1000

// Screenshot is one captured frame of the device screen.
type Screenshot struct {
	PNG    []byte
	Width  int
	Height int
}

// DeviceIO executes observations and actions against a live device. Both
// calls may fail with a device-unavailable error; such failures are fatal to
// the current sub-task only.
type DeviceIO interface {
	CaptureScreen(ctx context.Context, deviceID string) (*Screenshot, error)
	ExecuteAction(ctx context.Context, deviceID string, action Action, screen *Screenshot) (string, error)
}

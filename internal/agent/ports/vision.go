package ports

import "context"

// VisionTurn is one prior perception-action exchange replayed to the vision
// model so it keeps short-horizon continuity within a sub-task.
type VisionTurn struct {
	Observation string // screen info summary, images already stripped
	Response    string // model's raw reasoning+action text
}

// VisionRequest carries one perception query.
type VisionRequest struct {
	Instruction string
	Screenshot  *Screenshot
	ScreenInfo  string       // textual screen context (current app etc.)
	History     []VisionTurn // bounded window of prior turns
	FirstStep   bool
}

// VisionClient represents the vision-capable model driving the executor. The
// response content carries freeform reasoning followed by one action in the
// do(...)/finish(...) grammar; parsing is the executor's concern.
type VisionClient interface {
	Infer(ctx context.Context, req VisionRequest) (string, error)
	Model() string
}

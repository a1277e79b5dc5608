package mosaic

import (
	"errors"
	"fmt"

	"github.com/ajbt200128/mosaic/internal/estimate"
	"github.com/ajbt200128/mosaic/internal/warp"
)

// ErrMissingImage is returned when a merge is attempted without both photographs.
var ErrMissingImage = errors.New("missing image")

// Stage names the pipeline step a merge failed in.
type Stage string

const (
	StageInput    Stage = "input"
	StageEstimate Stage = "estimate"
	StageWarp     Stage = "warp"
	StageBlend    Stage = "blend"
)

// MergeError wraps the error of the stage that aborted a merge.
type MergeError struct {
	Stage Stage
	Err   error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge failed during %s: %v", e.Stage, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

// UserMessage is the text shown to whoever picked the points.
func (e *MergeError) UserMessage() string {
	switch {
	case errors.Is(e.Err, ErrMissingImage):
		return "Load both photos before merging."
	case errors.Is(e.Err, estimate.ErrInsufficientPoints):
		return "Pick four points on each photo before merging."
	case errors.Is(e.Err, estimate.ErrSingularTransform):
		return "The picked points are degenerate (three in a line or a repeated point). Pick different points and merge again."
	case errors.Is(e.Err, warp.ErrInvalidMatrix):
		return "The fitted transform cannot be inverted. Pick different points and merge again."
	case errors.Is(e.Err, warp.ErrCanvasOverflow):
		return "The merged image would be too large. Use smaller photos or raise the canvas limit."
	default:
		return fmt.Sprintf("Merge failed during %s.", e.Stage)
	}
}

// UserMessage returns the user-facing text for any error a merge returns.
func UserMessage(err error) string {
	var me *MergeError
	if errors.As(err, &me) {
		return me.UserMessage()
	}
	if err == nil {
		return ""
	}
	return "Merge failed."
}

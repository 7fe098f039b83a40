package cloudinit

import (
	"time"

	"github.com/cjp256/lpt/internal/model"
)

// ResultIncomplete marks a frame whose finish record never appeared.
const ResultIncomplete = "INCOMPLETE"

// Frame is a matched start/finish pair. Frames nest: Parent indexes the
// enclosing frame in the slice returned by Pair, or is -1 at the top level.
type Frame struct {
	Name   string
	Stage  string
	Module string
	Start  model.CloudInitEvent
	Finish *model.CloudInitEvent
	Result string
	Parent int
	Depth  int
}

// Open reports whether the frame never finished.
func (f Frame) Open() bool {
	return f.Finish == nil
}

// Duration is the time between start and finish, zero for open frames.
func (f Frame) Duration() time.Duration {
	if f.Finish == nil {
		return 0
	}
	return f.Finish.Timestamp.Sub(f.Start.Timestamp)
}

// Failed reports whether the frame finished with anything but SUCCESS.
func (f Frame) Failed() bool {
	return f.Finish != nil && f.Result != "SUCCESS"
}

// Pair matches start and finish records with a stack. It returns a copy of
// events with Duration set on matched finish records, and the frames in start
// order. A finish closes the innermost open frame with the same name; frames
// opened inside it and never finished stay open. A finish without any
// matching start is left unpaired.
func Pair(events []model.CloudInitEvent) ([]model.CloudInitEvent, []Frame) {
	out := make([]model.CloudInitEvent, len(events))
	copy(out, events)

	var (
		frames []Frame
		stack  []int
	)
	for i := range out {
		ev := out[i]
		switch ev.Type {
		case model.CloudInitStart:
			parent := -1
			if len(stack) > 0 {
				parent = stack[len(stack)-1]
			}
			frames = append(frames, Frame{
				Name:   ev.Name(),
				Stage:  ev.Stage,
				Module: ev.Module,
				Start:  ev,
				Result: ResultIncomplete,
				Parent: parent,
				Depth:  len(stack),
			})
			stack = append(stack, len(frames)-1)

		case model.CloudInitFinish:
			pos := -1
			for k := len(stack) - 1; k >= 0; k-- {
				if frames[stack[k]].Name == ev.Name() {
					pos = k
					break
				}
			}
			if pos < 0 {
				continue
			}
			idx := stack[pos]
			stack = stack[:pos]

			out[i].Duration = ev.Timestamp.Sub(frames[idx].Start.Timestamp)
			out[i].HasDuration = true
			finish := out[i]
			frames[idx].Finish = &finish
			frames[idx].Result = ev.Result
		}
	}
	return out, frames
}

package messages

import (
	"github.com/truefoundry/capacity-scheduler/pkg/schedule"
)

// Response is the body of every error and plain acknowledgement
type Response struct {
	Message string `json:"message"`
}

// ScheduleRequest saves one schedule record. When Version is set the save only succeeds
// if the stored record still has that version.
type ScheduleRequest struct {
	ID       string        `json:"id"`
	Cluster  string        `json:"cluster"`
	Start    string        `json:"start"`
	End      string        `json:"end"`
	Kind     schedule.Kind `json:"kind"`
	Disabled bool          `json:"disabled"`
	Version  *int64        `json:"version,omitempty"`
}

// Record converts the request into a record in the state an operator write starts in
func (r ScheduleRequest) Record() schedule.Record {
	return schedule.Record{
		ID:       r.ID,
		Cluster:  r.Cluster,
		Start:    r.Start,
		End:      r.End,
		Kind:     r.Kind,
		Disabled: r.Disabled,
		State:    schedule.DefaultState(r.Kind),
	}
}

type CapacityResponse struct {
	Cluster  string `json:"cluster"`
	CPULimit int64  `json:"cpuLimit"`
}

type TerminateResponse struct {
	Cluster   string   `json:"cluster"`
	Instances []string `json:"instances"`
}

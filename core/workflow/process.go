package workflow

import "github.com/pkg/errors"

// Process is one of the three tracked workflows. Approval follows the
// activity record; Campus and Delivery follow the commission tracking record.
type Process string

const (
	ProcessApproval Process = "approval"
	ProcessCampus   Process = "campus"
	ProcessDelivery Process = "delivery"
)

var AllProcesses = []Process{ProcessApproval, ProcessCampus, ProcessDelivery}

var ErrUnknownProcess = errors.New("unknown process")

func ParseProcess(s string) (Process, error) {
	p := Process(s)
	for _, known := range AllProcesses {
		if p == known {
			return p, nil
		}
	}
	return "", ErrUnknownProcess
}

// Step is a named boolean checkpoint. Key doubles as the record-store column
// name; the actor and timestamp columns derive from it (see ActorColumn,
// TimestampColumn).
type Step struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

var (
	approvalSteps = []Step{
		{Key: "A_Design", Label: "Design"},
		{Key: "A_Authorization", Label: "INAP Authorization"},
		{Key: "A_Load", Label: "SAI Load"},
		{Key: "A_Filing", Label: "Case Filing"},
		{Key: "A_Ruling", Label: "INAP Ruling"},
	}
	campusSteps = []Step{
		{Key: "C_ClassroomSetup", Label: "Classroom Setup"},
		{Key: "C_Enrollment", Label: "Participant Enrollment"},
		{Key: "C_Opening", Label: "Course Opening"},
		{Key: "C_Closing", Label: "Course Closing"},
		{Key: "C_GradeReporting", Label: "Grades & Attendance Reporting"},
	}
	deliverySteps = []Step{
		{Key: "D_Outreach", Label: "Outreach"},
		{Key: "D_SeatAssignment", Label: "Seat Assignment"},
		{Key: "D_Teaching", Label: "Teaching"},
		{Key: "D_Assessment", Label: "Attendance & Assessment"},
		{Key: "D_Credits", Label: "SAI Credits"},
		{Key: "D_Billing", Label: "Billing"},
	}
)

// Steps returns the ordered step definitions of a process. The returned slice
// is shared; callers must not mutate it.
func Steps(p Process) []Step {
	switch p {
	case ProcessApproval:
		return approvalSteps
	case ProcessCampus:
		return campusSteps
	case ProcessDelivery:
		return deliverySteps
	}
	return nil
}

// StepIndex returns the position of key in steps, or -1 if absent.
func StepIndex(steps []Step, key string) int {
	for i, step := range steps {
		if step.Key == key {
			return i
		}
	}
	return -1
}

// ActorColumn and TimestampColumn name the metadata columns paired with a
// step column in the record store.
func ActorColumn(key string) string     { return key + "_user" }
func TimestampColumn(key string) string { return key + "_timestamp" }

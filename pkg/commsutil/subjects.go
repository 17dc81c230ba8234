package commsutil

// Default COMMS subjects.
const (
	SubjectDispatched = "router.dispatched"
)

// BuildDispatchedSubject builds the per-route dispatch event subject.
func BuildDispatchedSubject(global, routeSubject string) string {
	if global == "" {
		global = SubjectDispatched
	}
	return global + "." + routeSubject
}

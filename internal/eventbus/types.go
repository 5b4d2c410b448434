package eventbus

import "time"

// Type identifies the kind of event flowing through the bus. Store change
// events and transport lifecycle/log events share this one type space so a
// single subscription can span both (e.g. a streaming HTTP client watching
// everything for one template).
type Type string

const (
	TemplateSet    Type = "template:set"
	TemplateRemove Type = "template:remove"
	InstanceSet    Type = "instance:set"
	InstanceRemove Type = "instance:remove"
	HealthUpdate   Type = "health:update"
	HealthRemove   Type = "health:remove"
	MetricsUpdate  Type = "metrics:update"
	MetricsRemove  Type = "metrics:remove"

	LifecycleExit Type = "lifecycle:exit"
	LifecycleLog  Type = "lifecycle:log"
)

// Event is one item published on the bus. ID is used for the
// least-recently-seen dedup filter; two events sharing an ID are the same
// logical occurrence delivered at most once per subscriber.
type Event struct {
	ID        string
	Type      Type
	Subject   string // template name or instance id, depending on Type
	Payload   interface{}
	Timestamp time.Time
}

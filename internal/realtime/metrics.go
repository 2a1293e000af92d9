package realtime

// Metrics receives counters from the realtime engine.
type Metrics interface {
	SetActive(workspaces, connections int)
	MessageBroadcast(msgType string)
	FanoutFailure()
	ProtocolError()
	AuthFailure()
}

type noopMetrics struct{}

func (noopMetrics) SetActive(int, int)      {}
func (noopMetrics) MessageBroadcast(string) {}
func (noopMetrics) FanoutFailure()          {}
func (noopMetrics) ProtocolError()          {}
func (noopMetrics) AuthFailure()            {}

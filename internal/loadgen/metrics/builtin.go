package metrics

// Names of the metrics the engine records on its own.
const (
	Iterations        = "iterations"
	IterationDuration = "iteration_duration"
	IterationsFailed  = "iterations_failed"
	VUs               = "vus"
	HTTPReqs          = "http_reqs"
	HTTPReqDuration   = "http_req_duration"
	HTTPReqFailed     = "http_req_failed"
	DataReceived      = "data_received"
	DataSent          = "data_sent"
	Checks            = "checks"
)

// Builtins lists the engine metrics and their kinds.
var Builtins = map[string]Kind{
	Iterations:        KindCounter,
	IterationDuration: KindTrend,
	IterationsFailed:  KindRate,
	VUs:               KindGauge,
	HTTPReqs:          KindCounter,
	HTTPReqDuration:   KindTrend,
	HTTPReqFailed:     KindRate,
	DataReceived:      KindCounter,
	DataSent:          KindCounter,
	Checks:            KindRate,
}

// DeclareBuiltins creates every engine metric so they appear in snapshots
// even when nothing was recorded into them.
func (r *Registry) DeclareBuiltins() error {
	for name, kind := range Builtins {
		if err := r.Declare(name, kind); err != nil {
			return err
		}
	}
	return nil
}

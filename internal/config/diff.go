package config

// RestartRequired lists the sections and fields that differ between prev and
// next but are only read at startup. Scoring and predictor settings, the
// velocity window and the ledger capacity apply on reload and are never
// listed.
func RestartRequired(prev, next *Config) []string {
	out := []string{}
	add := func(changed bool, name string) {
		if changed {
			out = append(out, name)
		}
	}
	add(prev.Engine != next.Engine, "engine")
	add(prev.Scoring.Retention != next.Scoring.Retention, "scoring.retention")
	add(prev.Scoring.JanitorInterval != next.Scoring.JanitorInterval, "scoring.janitor_interval")
	add(prev.Registry != next.Registry, "registry")
	add(prev.Alerts != next.Alerts, "alerts")
	pm, pc := prev.Simulation.Probabilities()
	nm, nc := next.Simulation.Probabilities()
	add(prev.Simulation.Enabled != next.Simulation.Enabled ||
		prev.Simulation.IntervalMs != next.Simulation.IntervalMs ||
		pm != nm || pc != nc, "simulation")
	add(prev.Logging != next.Logging, "logging")
	add(prev.Tracing != next.Tracing, "tracing")
	return out
}

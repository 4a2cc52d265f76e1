package stage

// Health summarizes the readiness of a stage executor or dependency.
type Health struct {
	Name     string `json:"name"`
	Ready    bool   `json:"ready"`
	Detail   string `json:"detail,omitempty"`
	Required bool   `json:"required"`
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true, Required: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail, Required: true}
}

// Optional marks the record as not gating overall readiness.
func (h Health) Optional() Health {
	h.Required = false
	return h
}

package checks

import (
	"fmt"
	"time"

	"github.com/lucasnoah/patchfactory/internal/config"
)

// FromConfig resolves the agent's validation check list into runner configs,
// in the configured order.
func FromConfig(a config.Agent) ([]CheckConfig, error) {
	out := make([]CheckConfig, 0, len(a.ValidationChecks))
	for _, name := range a.ValidationChecks {
		c, ok := a.Checks[name]
		if !ok {
			return nil, fmt.Errorf("validation check %q is not defined", name)
		}
		var timeout time.Duration
		if c.Timeout != "" {
			d, err := time.ParseDuration(c.Timeout)
			if err != nil {
				return nil, fmt.Errorf("check %q: invalid timeout %q: %w", name, c.Timeout, err)
			}
			timeout = d
		}
		out = append(out, CheckConfig{
			Name:       name,
			Command:    c.Command,
			Parser:     c.Parser,
			Timeout:    timeout,
			AutoFix:    c.AutoFix,
			FixCommand: c.FixCommand,
		})
	}
	return out, nil
}
